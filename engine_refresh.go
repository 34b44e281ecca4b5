package authcore

import (
	"context"
	"errors"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/internal"
	"github.com/halcyon-health/authcore/permission"
	"github.com/halcyon-health/authcore/session"
)

// Refresh rotates the refresh token and mints a new pair. The swap is a
// single Redis compare-and-swap: presenting a stale secret proves the token
// leaked, so the whole session is revoked before [ErrSessionRevoked] comes
// back.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sid, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	sess, err := e.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	newSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	err = e.sessions.RotateRefresh(ctx, sid,
		internal.HashRefreshSecret(secret), internal.HashRefreshSecret(newSecret))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRefreshMismatch):
		// Replay: the store already revoked the session.
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.logger.Warn().Str("session", sid).Str("user", sess.UserID).Msg("refresh token reuse detected, session revoked")
		if aerr := e.record(ctx, sess.UserID, "auth.refresh", permission.ResourceSession, sid, sid, meta,
			audit.StatusDenied, false, map[string]string{"reason": "token_reuse"}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrSessionRevoked
	case errors.Is(err, session.ErrRevoked), errors.Is(err, session.ErrExpired):
		e.metricInc(MetricRefreshFailure)
		return nil, ErrSessionRevoked
	case errors.Is(err, session.ErrNotFound):
		e.metricInc(MetricRefreshFailure)
		return nil, ErrSessionNotFound
	default:
		return nil, err
	}

	access, err := e.tokens.CreateAccess(sess.UserID, sess.Role, sid)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sid, newSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	if aerr := e.record(ctx, sess.UserID, "auth.refresh", permission.ResourceSession, sid, sid, meta,
		audit.StatusSuccess, false, nil); aerr != nil {
		return nil, aerr
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the session named by a still-valid access token. Revoking
// an already-revoked session is not an error.
func (e *Engine) Logout(ctx context.Context, accessToken string, meta RequestMeta) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	ac, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return ErrTokenInvalid
	}

	if err := e.sessions.Revoke(ctx, ac.SID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	return e.record(ctx, ac.UID, "auth.logout", permission.ResourceSession, ac.SID, ac.SID, meta,
		audit.StatusSuccess, false, nil)
}
