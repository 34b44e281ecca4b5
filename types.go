package authcore

import (
	"context"
	"time"
)

// Canonical roles seeded into the permission matrix. The matrix, not this
// list, is authoritative: a role absent from the matrix holds no permissions.
const (
	RoleSuperAdmin  = "super_admin"
	RoleAdmin       = "admin"
	RolePhysician   = "physician"
	RoleRadiologist = "radiologist"
	RoleNurse       = "nurse"
	RoleResearcher  = "researcher"
	RolePatient     = "patient"
	RoleAuditor     = "auditor"
)

// UserRecord is the full account record exchanged with a [UserStore].
// PasswordHash is an argon2id PHC string; TOTP material lives behind
// dedicated store methods so it never travels with routine lookups.
type UserRecord struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	MFAEnabled   bool
	Active       bool
	CreatedAt    time.Time
}

// TOTPRecord carries the stored TOTP state for one account. LastUsedCounter
// is the most recent accepted time-step, kept for replay protection.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code.
// The plaintext is handed to the user once and never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// CreateUserInput is the input for [UserStore.Create]. The engine supplies
// the UserID and a hashed password; stores must reject duplicate usernames
// and emails with [ErrDuplicateIdentity].
type CreateUserInput struct {
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// UserStore is the persistence contract for user accounts. Implementations
// must return [ErrUserNotFound] for missing accounts and
// [ErrDuplicateIdentity] for uniqueness violations; all other errors are
// treated as backend failures. Accounts are never hard-deleted — SetActive
// is the only retirement path, preserving audit referential integrity.
type UserStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetByID(ctx context.Context, userID string) (UserRecord, error)
	Create(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	UpdateRole(ctx context.Context, userID, role string) error
	SetActive(ctx context.Context, userID string, active bool) error

	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	EnableTOTP(ctx context.Context, userID string, secret []byte) error
	DisableTOTP(ctx context.Context, userID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	Role     string
}

// RegisterResult describes a newly created account. It never carries the
// password hash.
type RegisterResult struct {
	UserID    string
	Username  string
	Email     string
	Role      string
	CreatedAt time.Time
}

// TokenPair is an access/refresh token set minted for one session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmLoginMFA].
// When MFARequired is set the tokens are empty and MFAChallenge identifies
// the pending second-factor challenge.
type LoginResult struct {
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string

	MFARequired  bool
	MFAChallenge string
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	Role      string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RequestMeta carries transport-level facts attached to sessions and audit
// entries. Both fields may be empty for non-HTTP callers.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AccessDecision is the outcome of [Engine.VerifyAccess]. Allowed is false
// only on a clean permission denial; every other failure surfaces as an
// error. By the time the caller holds a decision, its audit entry has been
// durably written.
type AccessDecision struct {
	Allowed   bool
	UserID    string
	Role      string
	SessionID string
	Resource  string
	Action    string
}

// TOTPSetup is returned by [Engine.SetupTOTP]: the base32 shared secret and
// the otpauth:// provisioning URI callers render as a QR code.
type TOTPSetup struct {
	SecretBase32 string
	URI          string
}

// SessionInfo is the introspection view of a session returned by
// [Engine.ListSessions].
type SessionInfo struct {
	SessionID string
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
	Revoked   bool
}
