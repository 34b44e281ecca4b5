package authcore

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/internal"
	"github.com/halcyon-health/authcore/permission"
)

// Pending TOTP setups expire if never confirmed.
const totpSetupTTL = 10 * time.Minute

func totpSetupKey(userID string) string {
	return mfaChallengeKeyPrefix + ":setup:" + userID
}

// SetupTOTP generates a fresh shared secret and holds it server-side until
// [Engine.ConfirmTOTP] proves the authenticator was provisioned. MFA stays
// off until that proof arrives.
func (e *Engine) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	if err := e.mfaChallenges.redis.Set(ctx, totpSetupKey(userID), secretBase32, totpSetupTTL).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	account := user.Email
	if account == "" {
		account = user.Username
	}
	return &TOTPSetup{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, account),
	}, nil
}

// ConfirmTOTP verifies one code against the pending secret, enables MFA, and
// returns the single-use backup codes. The plaintext codes are shown exactly
// once; only their hashes are stored.
func (e *Engine) ConfirmTOTP(ctx context.Context, userID, code string, meta RequestMeta) ([]string, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	secretBase32, err := e.mfaChallenges.redis.Get(ctx, totpSetupKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFANotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		return nil, ErrMFANotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		return nil, ErrInvalidMFACode
	}

	if err := e.users.EnableTOTP(ctx, userID, secret); err != nil {
		return nil, err
	}
	if err := e.users.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return nil, err
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = e.mfaChallenges.redis.Del(ctx, totpSetupKey(userID)).Err()

	if aerr := e.record(ctx, userID, "mfa.enable", permission.ResourceUser, userID, "", meta,
		audit.StatusSuccess, false, nil); aerr != nil {
		return nil, aerr
	}
	return codes, nil
}

// DisableTOTP turns MFA off after password re-verification. The secret and
// every backup code are cleared.
func (e *Engine) DisableTOTP(ctx context.Context, userID, pass string, meta RequestMeta) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotConfigured
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := e.users.DisableTOTP(ctx, userID); err != nil {
		return err
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return err
	}

	return e.record(ctx, userID, "mfa.disable", permission.ResourceUser, userID, "", meta,
		audit.StatusSuccess, false, nil)
}

// RegenerateBackupCodes replaces every outstanding backup code after password
// re-verification.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, pass string, meta RequestMeta) ([]string, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotConfigured
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	codes, err := e.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	if aerr := e.record(ctx, userID, "mfa.backup_codes.regenerate", permission.ResourceUser, userID, "", meta,
		audit.StatusSuccess, false, nil); aerr != nil {
		return nil, aerr
	}
	return codes, nil
}

func (e *Engine) issueBackupCodes(ctx context.Context, userID string) ([]string, error) {
	count := e.config.TOTP.BackupCodeCount
	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.TOTP.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{Hash: internal.HashBackupCode(code)})
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, err
	}
	e.metricInc(MetricBackupCodesRegenerated)
	return codes, nil
}

// verifyMFACode accepts a TOTP code or a backup code. TOTP is tried first;
// a code for an already-consumed time-step is rejected even when it would
// otherwise verify.
func (e *Engine) verifyMFACode(ctx context.Context, user UserRecord, code string) error {
	rec, err := e.users.GetTOTPSecret(ctx, user.UserID)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Enabled {
		return ErrMFANotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(rec.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if ok {
		if counter <= rec.LastUsedCounter {
			e.metricInc(MetricMFAReplayAttempt)
			return ErrInvalidMFACode
		}
		return e.users.UpdateTOTPLastUsedCounter(ctx, user.UserID, counter)
	}

	consumed, err := e.users.ConsumeBackupCode(ctx, user.UserID, internal.HashBackupCode(code))
	if err != nil {
		return err
	}
	if consumed {
		e.metricInc(MetricBackupCodeUsed)
		return nil
	}
	return ErrInvalidMFACode
}
