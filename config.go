package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable the engine honors. Build it from
// [DefaultConfig], override what the deployment needs, and hand it to the
// builder; after [Builder.Build] the engine treats it as immutable.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	TOTP     TOTPConfig
	Session  SessionConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// JWTConfig controls access-token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// PasswordConfig sets the argon2id cost parameters and the strength policy
// minimum length. Character-class requirements are fixed: upper, lower,
// digit, symbol.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// LockoutConfig controls the per-account failed-login counter and the
// optional per-IP throttle. Counters are Redis-side atomic increments, so
// concurrent failures from the same account cannot lose updates.
type LockoutConfig struct {
	MaxAttempts      int
	LockoutDuration  time.Duration
	EnableIPThrottle bool
	IPMaxAttempts    int
	IPWindow         time.Duration
}

// TOTPConfig controls second-factor verification and login challenges.
// Skew is the accepted drift in time-steps on either side of now.
type TOTPConfig struct {
	Issuer               string
	Digits               int
	Period               int
	Algorithm            string // "SHA1", "SHA256", "SHA512"
	Skew                 int
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	BackupCodeCount      int
	BackupCodeLength     int
}

// SessionConfig controls the Redis session registry. RevokedRetention is how
// long a revoked session's tombstone outlives the revocation so audit
// entries referencing the session never dangle; Redis expiry collects the
// tombstone afterwards.
type SessionConfig struct {
	RedisPrefix      string
	RevokedRetention time.Duration
}

// AuditConfig controls the synchronous audit recorder. Writes retry
// MaxRetries times against transient store errors before the guarded
// operation fails closed. RetentionFloorDays is the HIPAA retention floor
// enforced by the stores' purge guard; nothing in normal operation deletes
// entries.
type AuditConfig struct {
	MaxRetries         int
	RetryBackoff       time.Duration
	RetentionFloorDays int
}

// MetricsConfig enables the engine's internal counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults documented in the platform security
// baseline: 30-minute access tokens, 7-day refresh tokens, 5-attempt/15-minute
// lockout, 6-digit 30-second TOTP with ±1 step skew, 10 backup codes, and a
// 2555-day (7-year) audit retention floor.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   12,
		},
		Lockout: LockoutConfig{
			MaxAttempts:      5,
			LockoutDuration:  15 * time.Minute,
			EnableIPThrottle: true,
			IPMaxAttempts:    20,
			IPWindow:         15 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:               "authcore",
			Digits:               6,
			Period:               30,
			Algorithm:            "SHA1",
			Skew:                 1,
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 5,
			BackupCodeCount:      10,
			BackupCodeLength:     10,
		},
		Session: SessionConfig{
			RedisPrefix:      "hc",
			RevokedRetention: 90 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			MaxRetries:         3,
			RetryBackoff:       50 * time.Millisecond,
			RetentionFloorDays: 2555,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.JWT.AccessTTL <= 0 || cfg.JWT.RefreshTTL <= 0 {
		return errors.New("jwt TTLs must be positive")
	}
	if cfg.JWT.RefreshTTL <= cfg.JWT.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Password.MinLength < 12 {
		return errors.New("password minimum length below policy floor of 12")
	}
	if cfg.Lockout.MaxAttempts <= 0 || cfg.Lockout.LockoutDuration <= 0 {
		return errors.New("invalid lockout configuration")
	}
	if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if cfg.TOTP.Period <= 0 || cfg.TOTP.Skew < 0 {
		return errors.New("invalid totp window configuration")
	}
	if cfg.TOTP.BackupCodeCount <= 0 || cfg.TOTP.BackupCodeLength < 8 {
		return errors.New("invalid backup code configuration")
	}
	if cfg.Audit.MaxRetries < 0 {
		return errors.New("audit retry budget cannot be negative")
	}
	if cfg.Audit.RetentionFloorDays < 2555 {
		return errors.New("audit retention floor below the 2555-day HIPAA minimum")
	}
	if cfg.Session.RevokedRetention <= 0 {
		return errors.New("revoked session retention must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
