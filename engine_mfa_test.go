package authcore

import (
	"context"
	"encoding/base32"
	"errors"
	"testing"
	"time"
)

// currentTOTP computes the code an authenticator app would show right now.
func currentTOTP(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().Unix() / int64(cfg.Period)
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

func enrollMFA(t *testing.T, env *testEnv, uid string) (secretBase32 string, backupCodes []string) {
	t.Helper()

	ctx := context.Background()
	setup, err := env.engine.SetupTOTP(ctx, uid)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}

	code := currentTOTP(t, setup.SecretBase32, env.engine.config.TOTP)
	codes, err := env.engine.ConfirmTOTP(ctx, uid, code, RequestMeta{})
	if err != nil {
		t.Fatalf("ConfirmTOTP failed: %v", err)
	}
	return setup.SecretBase32, codes
}

func TestTOTPEnrollmentIssuesBackupCodes(t *testing.T) {
	cfg := testConfig()
	env := newTestEngine(t, cfg)
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)

	setup, err := env.engine.SetupTOTP(context.Background(), uid)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	if setup.SecretBase32 == "" || setup.URI == "" {
		t.Fatalf("incomplete setup: %+v", setup)
	}

	_, codes := enrollMFA(t, env, uid)
	if len(codes) != cfg.TOTP.BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", cfg.TOTP.BackupCodeCount, len(codes))
	}
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if len(c) != cfg.TOTP.BackupCodeLength {
			t.Fatalf("backup code %q has wrong length", c)
		}
		if _, dup := seen[c]; dup {
			t.Fatalf("duplicate backup code %q", c)
		}
		seen[c] = struct{}{}
	}
}

func TestConfirmTOTPWrongCode(t *testing.T) {
	env := newTestEngine(t, testConfig())
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)

	if _, err := env.engine.SetupTOTP(context.Background(), uid); err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	if _, err := env.engine.ConfirmTOTP(context.Background(), uid, "000000", RequestMeta{}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
}

func TestLoginRequiresMFAAfterEnrollment(t *testing.T) {
	env := newTestEngine(t, testConfig())
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)
	secret, _ := enrollMFA(t, env, uid)

	result := env.mustLogin(t, "alice", testPassword)
	if !result.MFARequired || result.MFAChallenge == "" {
		t.Fatalf("expected pending MFA challenge, got %+v", result)
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("tokens minted before second factor")
	}

	// The replay counter advanced during enrollment, so confirm with the
	// next time-step's code, still inside the skew window.
	code := nextStepTOTP(t, secret, env.engine.config.TOTP)
	confirmed, err := env.engine.ConfirmLoginMFA(context.Background(), result.MFAChallenge, code, RequestMeta{})
	if err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	if confirmed.AccessToken == "" || confirmed.RefreshToken == "" {
		t.Fatalf("expected tokens after MFA, got %+v", confirmed)
	}
}

// nextStepTOTP returns the code for the time-step after the current one,
// which the skew window accepts and the replay counter has not yet seen.
func nextStepTOTP(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().Unix()/int64(cfg.Period) + 1
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

func TestMFABackupCodeSingleUse(t *testing.T) {
	env := newTestEngine(t, testConfig())
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)
	_, codes := enrollMFA(t, env, uid)

	ctx := context.Background()
	first := env.mustLogin(t, "alice", testPassword)
	if _, err := env.engine.ConfirmLoginMFA(ctx, first.MFAChallenge, codes[0], RequestMeta{}); err != nil {
		t.Fatalf("backup code login failed: %v", err)
	}

	// The consumed code never works again.
	second := env.mustLogin(t, "alice", testPassword)
	if _, err := env.engine.ConfirmLoginMFA(ctx, second.MFAChallenge, codes[0], RequestMeta{}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode for reused backup code, got %v", err)
	}

	// A different code from the set still works.
	third := env.mustLogin(t, "alice", testPassword)
	if _, err := env.engine.ConfirmLoginMFA(ctx, third.MFAChallenge, codes[1], RequestMeta{}); err != nil {
		t.Fatalf("second backup code login failed: %v", err)
	}
}

func TestMFAChallengeAttemptBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TOTP.ChallengeMaxAttempts = 3
	env := newTestEngine(t, cfg)
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)
	enrollMFA(t, env, uid)

	ctx := context.Background()
	login := env.mustLogin(t, "alice", testPassword)

	for i := 0; i < cfg.TOTP.ChallengeMaxAttempts-1; i++ {
		_, err := env.engine.ConfirmLoginMFA(ctx, login.MFAChallenge, "000000", RequestMeta{})
		if !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("attempt %d: expected ErrInvalidMFACode, got %v", i+1, err)
		}
	}

	// The budget-exhausting attempt burns the challenge.
	if _, err := env.engine.ConfirmLoginMFA(ctx, login.MFAChallenge, "000000", RequestMeta{}); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("expected ErrMFAAttemptsExceeded, got %v", err)
	}
	if _, err := env.engine.ConfirmLoginMFA(ctx, login.MFAChallenge, "000000", RequestMeta{}); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("burned challenge should be gone, got %v", err)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	cfg := testConfig()
	env := newTestEngine(t, cfg)
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)
	secret, _ := enrollMFA(t, env, uid)

	login := env.mustLogin(t, "alice", testPassword)
	env.mr.FastForward(cfg.TOTP.ChallengeTTL + time.Second)

	code := currentTOTP(t, secret, cfg.TOTP)
	_, err := env.engine.ConfirmLoginMFA(context.Background(), login.MFAChallenge, code, RequestMeta{})
	if !errors.Is(err, ErrInvalidMFACode) && !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("expected expired/invalid challenge, got %v", err)
	}
}

func TestDisableTOTPRequiresPassword(t *testing.T) {
	env := newTestEngine(t, testConfig())
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RolePhysician)
	enrollMFA(t, env, uid)

	ctx := context.Background()
	if err := env.engine.DisableTOTP(ctx, uid, "Wrong-Pass-99!", RequestMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.DisableTOTP(ctx, uid, testPassword, RequestMeta{}); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}

	// Login no longer demands a second factor.
	result := env.mustLogin(t, "alice", testPassword)
	if result.MFARequired {
		t.Fatal("MFA still required after disable")
	}
}
