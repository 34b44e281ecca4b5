package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/internal"
	"github.com/halcyon-health/authcore/permission"
	"github.com/halcyon-health/authcore/session"
)

// Login authenticates by username or email. Lockout is checked before the
// password so a locked account fails identically for right and wrong
// passwords; when the account has MFA enabled the result carries a pending
// challenge instead of tokens.
func (e *Engine) Login(ctx context.Context, identifier, pass string, meta RequestMeta) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	throttled, err := e.limiter.CheckIP(ctx, meta.IP)
	if err != nil {
		return nil, err
	}
	if throttled {
		e.metricInc(MetricLoginThrottled)
		if aerr := e.record(ctx, "", "auth.login", permission.ResourceUser, "", "", meta,
			audit.StatusDenied, false, map[string]string{"reason": "ip_throttled"}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrLoginRateLimited
	}
	if err := e.limiter.RecordIP(ctx, meta.IP); err != nil {
		return nil, err
	}

	user, err := e.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			if aerr := e.record(ctx, "", "auth.login", permission.ResourceUser, "", "", meta,
				audit.StatusDenied, false, map[string]string{"reason": "unknown_identifier"}); aerr != nil {
				return nil, aerr
			}
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, retryAfter, err := e.limiter.AccountStatus(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if locked {
		if aerr := e.record(ctx, user.UserID, "auth.login", permission.ResourceUser, user.UserID, "", meta,
			audit.StatusDenied, false, map[string]string{
				"reason":      "account_locked",
				"retry_after": retryAfter.Truncate(time.Second).String(),
			}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrAccountLocked
	}

	if !user.Active {
		if aerr := e.record(ctx, user.UserID, "auth.login", permission.ResourceUser, user.UserID, "", meta,
			audit.StatusDenied, false, map[string]string{"reason": "account_disabled"}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrAccountDisabled
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		nowLocked, lerr := e.limiter.RecordFailure(ctx, user.UserID)
		if lerr != nil {
			return nil, lerr
		}
		e.metricInc(MetricLoginFailure)
		if nowLocked {
			e.metricInc(MetricAccountLocked)
			e.logger.Info().Str("user", user.UserID).Msg("account locked after repeated login failures")
			if aerr := e.record(ctx, user.UserID, "auth.login", permission.ResourceUser, user.UserID, "", meta,
				audit.StatusDenied, false, map[string]string{"reason": "lockout_triggered"}); aerr != nil {
				return nil, aerr
			}
			return nil, ErrAccountLocked
		}
		if aerr := e.record(ctx, user.UserID, "auth.login", permission.ResourceUser, user.UserID, "", meta,
			audit.StatusDenied, false, map[string]string{"reason": "bad_password"}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrInvalidCredentials
	}

	if err := e.limiter.Reset(ctx, user.UserID); err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		challengeID := uuid.NewString()
		challenge := &mfaChallenge{
			UserID:    user.UserID,
			ExpiresAt: time.Now().Add(e.config.TOTP.ChallengeTTL).Unix(),
		}
		if err := e.mfaChallenges.Save(ctx, challengeID, challenge, e.config.TOTP.ChallengeTTL); err != nil {
			return nil, mapMFAChallengeError(err)
		}
		e.metricInc(MetricMFAChallengeIssued)
		if aerr := e.record(ctx, user.UserID, "auth.login", permission.ResourceUser, user.UserID, "", meta,
			audit.StatusSuccess, false, map[string]string{"mfa": "pending"}); aerr != nil {
			return nil, aerr
		}
		return &LoginResult{
			UserID:       user.UserID,
			MFARequired:  true,
			MFAChallenge: challengeID,
		}, nil
	}

	return e.establishSession(ctx, user, "auth.login", meta)
}

// ConfirmLoginMFA completes a pending challenge with a TOTP or backup code.
// The challenge is burned on success before tokens are minted, so a raced
// duplicate confirm cannot mint a second session from one code.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, code string, meta RequestMeta) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	challenge, err := e.mfaChallenges.Get(ctx, challengeID)
	if err != nil {
		return nil, mapMFAChallengeError(err)
	}

	user, err := e.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}

	if err := e.verifyMFACode(ctx, user, code); err != nil {
		if errors.Is(err, ErrInvalidMFACode) {
			exceeded, lerr := e.mfaChallenges.RecordFailure(ctx, challengeID, e.config.TOTP.ChallengeMaxAttempts)
			if lerr != nil {
				return nil, mapMFAChallengeError(lerr)
			}
			e.metricInc(MetricMFAFailure)
			if exceeded {
				if aerr := e.record(ctx, user.UserID, "auth.mfa.confirm", permission.ResourceUser, user.UserID, "", meta,
					audit.StatusDenied, false, map[string]string{"reason": "attempts_exceeded"}); aerr != nil {
					return nil, aerr
				}
				return nil, ErrMFAAttemptsExceeded
			}
		}
		return nil, err
	}

	existed, err := e.mfaChallenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, mapMFAChallengeError(err)
	}
	if !existed {
		// A concurrent confirm got here first.
		e.metricInc(MetricMFAReplayAttempt)
		return nil, ErrInvalidMFACode
	}

	e.metricInc(MetricMFASuccess)
	return e.establishSession(ctx, user, "auth.mfa.confirm", meta)
}

// establishSession creates the Redis session, mints the token pair, and
// writes the success audit entry.
func (e *Engine) establishSession(ctx context.Context, user UserRecord, action string, meta RequestMeta) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := session.Session{
		ID:          sid.String(),
		UserID:      user.UserID,
		Role:        user.Role,
		RefreshHash: internal.HashRefreshSecret(secret),
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.config.JWT.RefreshTTL),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	access, err := e.tokens.CreateAccess(user.UserID, user.Role, sess.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sess.ID, secret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	if aerr := e.record(ctx, user.UserID, action, permission.ResourceSession, sess.ID, sess.ID, meta,
		audit.StatusSuccess, false, nil); aerr != nil {
		return nil, aerr
	}

	return &LoginResult{
		UserID:       user.UserID,
		SessionID:    sess.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}
