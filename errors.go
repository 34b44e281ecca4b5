package authcore

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidCredentials is returned on login when the identifier or
	// password is wrong. Callers must not reveal which one.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when a user lookup by ID fails.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked is returned while the failed-login lockout window is
	// active, regardless of password correctness.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for soft-deactivated accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrLoginRateLimited is returned when the per-IP login throttle trips.
	ErrLoginRateLimited = errors.New("login rate limited")

	// ErrWeakPassword is returned when a password fails the strength policy.
	ErrWeakPassword = errors.New("password does not meet strength policy")
	// ErrDuplicateIdentity is returned when the username or email is taken.
	ErrDuplicateIdentity = errors.New("username or email already registered")
	// ErrPasswordReuse is returned when a password change supplies the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrRoleUnknown is returned for roles absent from the permission matrix.
	ErrRoleUnknown = errors.New("unknown role")

	// ErrMFARequired signals that password authentication succeeded and a
	// second factor is pending. It is never returned before the password
	// check passes.
	ErrMFARequired = errors.New("multi-factor code required")
	// ErrInvalidMFACode is returned for wrong, replayed, or consumed codes.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFAChallengeExpired is returned when the login challenge TTL lapsed.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")
	// ErrMFAAttemptsExceeded is returned when the challenge attempt budget is
	// spent.
	ErrMFAAttemptsExceeded = errors.New("mfa challenge attempts exceeded")
	// ErrMFANotConfigured is returned for MFA operations on accounts without
	// an enabled secret.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAUnavailable is returned when the challenge backend is down.
	ErrMFAUnavailable = errors.New("mfa backend unavailable")

	// ErrTokenInvalid is the uniform external face of expired, tampered, and
	// malformed access tokens. The audit detail records the specific cause.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrSessionRevoked is returned for refresh or verify against a revoked
	// session, including revocation triggered by refresh-token reuse.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned when the session record is gone.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshInvalid is returned for structurally invalid refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrPermissionDenied is returned when the role lacks the requested
	// (resource, action) permission. Terminal: no fallback.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAuditUnavailable is returned when the audit store cannot durably
	// persist an entry within the retry budget. The guarded operation fails
	// with it; access is never granted unaudited.
	ErrAuditUnavailable = errors.New("audit store unavailable")

	// ErrEngineNotReady is returned when the engine or a required dependency
	// was not initialized through the builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode maps an engine error to a stable wire code and an HTTP status.
// Unknown errors map to internal_error/500 so internal detail never leaks to
// production responses. Expired, tampered, and revoked token causes share one
// code on purpose: distinguishing them externally builds an oracle.
func ErrorCode(err error) (string, int) {
	switch {
	case err == nil:
		return "ok", http.StatusOK
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return "invalid_credentials", http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked):
		return "account_locked", http.StatusUnauthorized
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled", http.StatusUnauthorized
	case errors.Is(err, ErrLoginRateLimited):
		return "rate_limited", http.StatusTooManyRequests
	case errors.Is(err, ErrMFARequired):
		return "mfa_required", http.StatusUnauthorized
	case errors.Is(err, ErrInvalidMFACode),
		errors.Is(err, ErrMFAChallengeExpired),
		errors.Is(err, ErrMFAAttemptsExceeded):
		return "invalid_mfa_code", http.StatusUnauthorized
	case errors.Is(err, ErrMFANotConfigured):
		return "mfa_not_configured", http.StatusBadRequest
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrRefreshInvalid):
		return "invalid_token", http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return "forbidden", http.StatusForbidden
	case errors.Is(err, ErrWeakPassword):
		return "weak_password", http.StatusBadRequest
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate_identity", http.StatusBadRequest
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse", http.StatusBadRequest
	case errors.Is(err, ErrRoleUnknown):
		return "unknown_role", http.StatusBadRequest
	case errors.Is(err, ErrAuditUnavailable):
		return "audit_unavailable", http.StatusInternalServerError
	default:
		return "internal_error", http.StatusInternalServerError
	}
}
