// Package postgres implements the authcore user store on PostgreSQL through
// database/sql with the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/halcyon-health/authcore"
)

// Schema creates the tables the store needs. Applied by the operator or a
// migration tool, not by the store itself.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id            TEXT PRIMARY KEY,
    username           TEXT NOT NULL UNIQUE,
    email              TEXT NOT NULL UNIQUE,
    password_hash      TEXT NOT NULL,
    role               TEXT NOT NULL,
    mfa_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
    totp_secret        BYTEA,
    totp_last_counter  BIGINT NOT NULL DEFAULT 0,
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS backup_codes (
    user_id   TEXT NOT NULL REFERENCES users(user_id),
    code_hash BYTEA NOT NULL,
    PRIMARY KEY (user_id, code_hash)
);
`

const pgUniqueViolation = "23505"

// Store implements [authcore.UserStore]. Safe for concurrent use; the pool
// inside *sql.DB does the heavy lifting.
type Store struct {
	db *sql.DB
}

var _ authcore.UserStore = (*Store)(nil)

// Open dials PostgreSQL with pool settings sized for the auth workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle, e.g. one shared with the audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const userColumns = `user_id, username, email, password_hash, role, mfa_enabled, is_active, created_at`

func scanUser(row *sql.Row) (authcore.UserRecord, error) {
	var u authcore.UserRecord
	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.MFAEnabled, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, err
	}
	return u, nil
}

// GetByIdentifier looks a user up by username or email, case-insensitive on
// the email side.
func (s *Store) GetByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE username = $1 OR email = lower($1)
	`, identifier)
	return scanUser(row)
}

func (s *Store) GetByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE user_id = $1
	`, userID)
	return scanUser(row)
}

func (s *Store) Create(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (user_id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, input.UserID, input.Username, input.Email, input.PasswordHash, input.Role).Scan(&created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return authcore.UserRecord{}, authcore.ErrDuplicateIdentity
		}
		return authcore.UserRecord{}, err
	}

	return authcore.UserRecord{
		UserID:       input.UserID,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Active:       true,
		CreatedAt:    created,
	}, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return s.execOne(ctx, `UPDATE users SET password_hash = $2 WHERE user_id = $1`, userID, newHash)
}

func (s *Store) UpdateRole(ctx context.Context, userID, role string) error {
	return s.execOne(ctx, `UPDATE users SET role = $2 WHERE user_id = $1`, userID, role)
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.execOne(ctx, `UPDATE users SET is_active = $2 WHERE user_id = $1`, userID, active)
}

func (s *Store) GetTOTPSecret(ctx context.Context, userID string) (*authcore.TOTPRecord, error) {
	var rec authcore.TOTPRecord
	var secret []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT totp_secret, mfa_enabled, totp_last_counter FROM users WHERE user_id = $1
	`, userID).Scan(&secret, &rec.Enabled, &rec.LastUsedCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Secret = secret
	return &rec, nil
}

func (s *Store) EnableTOTP(ctx context.Context, userID string, secret []byte) error {
	return s.execOne(ctx, `
		UPDATE users SET totp_secret = $2, mfa_enabled = TRUE, totp_last_counter = 0
		WHERE user_id = $1
	`, userID, secret)
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return s.execOne(ctx, `
		UPDATE users SET totp_secret = NULL, mfa_enabled = FALSE, totp_last_counter = 0
		WHERE user_id = $1
	`, userID)
}

func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	return s.execOne(ctx, `UPDATE users SET totp_last_counter = $2 WHERE user_id = $1`, userID, counter)
}

// ReplaceBackupCodes swaps the full code set in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)
		`, userID, code.Hash[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode deletes the matching code and reports whether a row was
// consumed. The DELETE is the atomicity: two racers cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2
	`, userID, codeHash[:])
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
