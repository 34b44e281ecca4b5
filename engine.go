package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/internal/rate"
	"github.com/halcyon-health/authcore/jwt"
	"github.com/halcyon-health/authcore/password"
	"github.com/halcyon-health/authcore/permission"
	"github.com/halcyon-health/authcore/session"
)

// Engine is the authentication and access-control core. Construct it through
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config        Config
	logger        zerolog.Logger
	users         UserStore
	sessions      *session.Store
	matrix        *permission.Matrix
	limiter       *rate.Limiter
	mfaChallenges *mfaChallengeStore
	recorder      *auditRecorder
	metrics       *Metrics
	hasher        *password.Hasher
	policy        password.Policy
	totp          *totpManager
	tokens        *jwt.Manager
}

// Matrix exposes the live permission matrix for read-side introspection.
func (e *Engine) Matrix() *permission.Matrix {
	return e.matrix
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counter set, e.g. for a [PrometheusCollector].
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// VerifyToken checks signature, expiry, and session liveness, and returns the
// token's claims. Expired, tampered, and malformed tokens all fail as
// [ErrTokenInvalid]; a revoked session fails as [ErrSessionRevoked].
func (e *Engine) VerifyToken(ctx context.Context, accessToken string) (*Claims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	ac, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		e.logger.Debug().Str("cause", tokenFailureCause(err)).Msg("access token rejected")
		return nil, ErrTokenInvalid
	}

	active, err := e.sessions.IsActive(ctx, ac.SID)
	if err != nil {
		return nil, err
	}
	if !active {
		e.metricInc(MetricTokenRejected)
		return nil, ErrSessionRevoked
	}

	claims := &Claims{
		UserID:    ac.UID,
		Role:      ac.Role,
		SessionID: ac.SID,
	}
	if ac.IssuedAt != nil {
		claims.IssuedAt = ac.IssuedAt.Time
	}
	if ac.ExpiresAt != nil {
		claims.ExpiresAt = ac.ExpiresAt.Time
	}
	return claims, nil
}

// VerifyAccess is the hot path: token, session liveness, and the permission
// matrix, in that order, with exactly one durable audit entry per call. The
// decision is not returned until that entry is written; if the audit store
// stays unavailable past the retry budget the call fails with
// [ErrAuditUnavailable] and access is denied.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken, resource, action string, meta RequestMeta) (*AccessDecision, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}
	}()

	ac, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		if aerr := e.recorder.Record(ctx, audit.Entry{
			ID:           uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Action:       "access." + action,
			ResourceType: resource,
			IP:           meta.IP,
			Status:       audit.StatusDenied,
			Details: map[string]string{
				"reason": "invalid_token",
				"cause":  tokenFailureCause(err),
			},
		}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrTokenInvalid
	}

	entry := audit.Entry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ActorUserID:  ac.UID,
		Action:       "access." + action,
		ResourceType: resource,
		SessionID:    ac.SID,
		IP:           meta.IP,
	}

	active, err := e.sessions.IsActive(ctx, ac.SID)
	if err != nil {
		entry.Status = audit.StatusError
		entry.Details = map[string]string{"reason": "session_backend_unavailable"}
		if aerr := e.recorder.Record(ctx, entry); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}
	if !active {
		e.metricInc(MetricTokenRejected)
		entry.Status = audit.StatusDenied
		entry.Details = map[string]string{"reason": "session_revoked"}
		if aerr := e.recorder.Record(ctx, entry); aerr != nil {
			return nil, aerr
		}
		return nil, ErrSessionRevoked
	}

	allowed := e.matrix.Has(ac.Role, resource, action)
	if allowed {
		e.metricInc(MetricAccessAllowed)
		entry.Status = audit.StatusSuccess
		entry.PHIAccessed = permission.IsPHI(resource)
	} else {
		e.metricInc(MetricAccessDenied)
		entry.Status = audit.StatusDenied
		entry.Details = map[string]string{"reason": "permission_denied"}
	}
	if aerr := e.recorder.Record(ctx, entry); aerr != nil {
		return nil, aerr
	}

	decision := &AccessDecision{
		Allowed:   allowed,
		UserID:    ac.UID,
		Role:      ac.Role,
		SessionID: ac.SID,
		Resource:  resource,
		Action:    action,
	}
	if !allowed {
		return decision, ErrPermissionDenied
	}
	return decision, nil
}

// tokenFailureCause names the parse failure for audit details and debug logs.
// Never exposed to callers.
func tokenFailureCause(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "expired"
	case errors.Is(err, jwt.ErrSignature):
		return "bad_signature"
	case errors.Is(err, jwt.ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
