package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-health/authcore/audit"
)

// auditRecorder writes entries synchronously before any guarded operation
// returns. The write context is detached from the caller's so a dropped
// connection cannot cancel a record mid-flight; transient store failures are
// retried within the configured budget and then the operation fails closed.
type auditRecorder struct {
	store   audit.Store
	config  AuditConfig
	logger  zerolog.Logger
	metrics *Metrics
}

func newAuditRecorder(store audit.Store, cfg AuditConfig, logger zerolog.Logger, metrics *Metrics) *auditRecorder {
	return &auditRecorder{
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Record persists the entry or returns [ErrAuditUnavailable]. A nil return
// means the entry is durable.
func (r *auditRecorder) Record(ctx context.Context, entry audit.Entry) error {
	if r == nil || r.store == nil {
		return ErrEngineNotReady
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	writeCtx := context.WithoutCancel(ctx)

	var lastErr error
	attempts := r.config.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := r.store.Append(writeCtx, entry)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts {
			r.metrics.Inc(MetricAuditWriteRetry)
			r.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("audit_action", entry.Action).
				Msg("audit append failed, retrying")
			time.Sleep(r.config.RetryBackoff)
		}
	}

	r.metrics.Inc(MetricAuditWriteFailure)
	r.logger.Error().
		Err(lastErr).
		Str("audit_action", entry.Action).
		Str("actor", entry.ActorUserID).
		Msg("audit append exhausted retries, failing closed")
	return fmt.Errorf("%w: %v", ErrAuditUnavailable, lastErr)
}

// record is the convenience used by engine operations: it fills the shared
// envelope fields and delegates to Record.
func (e *Engine) record(ctx context.Context, actor, action, resourceType, resourceID, sessionID string, meta RequestMeta, status audit.Status, phi bool, details map[string]string) error {
	return e.recorder.Record(ctx, audit.Entry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ActorUserID:  actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SessionID:    sessionID,
		IP:           meta.IP,
		Status:       status,
		PHIAccessed:  phi,
		Details:      details,
	})
}
