package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/permission"
	"github.com/halcyon-health/authcore/session"
)

// requireActor authenticates the acting token and checks one permission.
// A clean denial is audited under opAction before [ErrPermissionDenied]
// comes back; the operations themselves audit only their success path, so
// each admin call still produces exactly one entry.
func (e *Engine) requireActor(ctx context.Context, actorToken, resource, action, opAction string, meta RequestMeta) (*Claims, error) {
	claims, err := e.VerifyToken(ctx, actorToken)
	if err != nil {
		return nil, err
	}
	if !e.matrix.Has(claims.Role, resource, action) {
		e.metricInc(MetricAccessDenied)
		if aerr := e.record(ctx, claims.UserID, opAction, resource, "", claims.SessionID, meta,
			audit.StatusDenied, false, map[string]string{"reason": "permission_denied"}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrPermissionDenied
	}
	return claims, nil
}

// GrantRole reassigns a user's role. Every session of the user is revoked so
// outstanding tokens stop carrying the old role.
func (e *Engine) GrantRole(ctx context.Context, actorToken, userID, role string, meta RequestMeta) error {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceUser, permission.ActionWrite, "admin.grant_role", meta)
	if err != nil {
		return err
	}

	if !e.matrix.KnownRole(role) {
		return fmt.Errorf("%w: %q", ErrRoleUnknown, role)
	}
	if err := e.users.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAll(ctx, userID); err != nil {
		e.logger.Warn().Err(err).Str("user", userID).Msg("session revocation after role change incomplete")
	}

	return e.record(ctx, actor.UserID, "admin.grant_role", permission.ResourceUser, userID, actor.SessionID, meta,
		audit.StatusSuccess, false, map[string]string{"role": role})
}

// SetUserActive soft-activates or soft-deactivates an account. Deactivation
// revokes every session; the record itself is never deleted.
func (e *Engine) SetUserActive(ctx context.Context, actorToken, userID string, active bool, meta RequestMeta) error {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceUser, permission.ActionDelete, "admin.user.set_active", meta)
	if err != nil {
		return err
	}

	if err := e.users.SetActive(ctx, userID, active); err != nil {
		return err
	}

	action := "admin.user.reactivate"
	if !active {
		action = "admin.user.deactivate"
		if _, err := e.sessions.RevokeAll(ctx, userID); err != nil {
			e.logger.Warn().Err(err).Str("user", userID).Msg("session revocation after deactivation incomplete")
		}
	}

	return e.record(ctx, actor.UserID, action, permission.ResourceUser, userID, actor.SessionID, meta,
		audit.StatusSuccess, false, nil)
}

// RevokeSession force-revokes one session.
func (e *Engine) RevokeSession(ctx context.Context, actorToken, sessionID string, meta RequestMeta) error {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceSession, permission.ActionDelete, "admin.session.revoke", meta)
	if err != nil {
		return err
	}

	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	e.metricInc(MetricSessionRevoked)
	return e.record(ctx, actor.UserID, "admin.session.revoke", permission.ResourceSession, sessionID, actor.SessionID, meta,
		audit.StatusSuccess, false, nil)
}

// RevokeAllSessions force-revokes every session of a user and returns how
// many transitioned.
func (e *Engine) RevokeAllSessions(ctx context.Context, actorToken, userID string, meta RequestMeta) (int, error) {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceSession, permission.ActionDelete, "admin.session.revoke_all", meta)
	if err != nil {
		return 0, err
	}

	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return revoked, err
	}

	for i := 0; i < revoked; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	return revoked, e.record(ctx, actor.UserID, "admin.session.revoke_all", permission.ResourceSession, userID, actor.SessionID, meta,
		audit.StatusSuccess, false, map[string]string{"revoked": strconv.Itoa(revoked)})
}

// ListSessions returns every still-stored session of a user, newest first,
// revoked tombstones included.
func (e *Engine) ListSessions(ctx context.Context, actorToken, userID string) ([]SessionInfo, error) {
	_, err := e.requireActor(ctx, actorToken, permission.ResourceSession, permission.ActionRead, "admin.session.list", RequestMeta{})
	if err != nil {
		return nil, err
	}

	sessions, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			SessionID: s.ID,
			UserID:    s.UserID,
			Role:      s.Role,
			IssuedAt:  s.IssuedAt,
			ExpiresAt: s.ExpiresAt,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Revoked:   s.Revoked,
		})
	}
	return out, nil
}

// GrantRolePermission adds one (resource, action) grant to a role. The
// matrix swaps in a new snapshot; in-flight reads keep the old one.
func (e *Engine) GrantRolePermission(ctx context.Context, actorToken, role, resource, action string, meta RequestMeta) error {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceRolePolicy, permission.ActionWrite, "admin.role_policy.change", meta)
	if err != nil {
		return err
	}

	if err := e.matrix.Grant(role, permission.Permission{Resource: resource, Action: action}); err != nil {
		return err
	}

	return e.record(ctx, actor.UserID, "admin.role_policy.grant", permission.ResourceRolePolicy, role, actor.SessionID, meta,
		audit.StatusSuccess, false, map[string]string{"resource": resource, "action": action})
}

// RevokeRolePermission removes one grant from a role. Removing an absent
// grant is not an error.
func (e *Engine) RevokeRolePermission(ctx context.Context, actorToken, role, resource, action string, meta RequestMeta) error {
	actor, err := e.requireActor(ctx, actorToken, permission.ResourceRolePolicy, permission.ActionWrite, "admin.role_policy.change", meta)
	if err != nil {
		return err
	}

	e.matrix.Revoke(role, permission.Permission{Resource: resource, Action: action})

	return e.record(ctx, actor.UserID, "admin.role_policy.revoke", permission.ResourceRolePolicy, role, actor.SessionID, meta,
		audit.StatusSuccess, false, map[string]string{"resource": resource, "action": action})
}

// AuditByUser returns the audit trail of one actor inside the window.
func (e *Engine) AuditByUser(ctx context.Context, actorToken, userID string, window audit.Window, limit int) ([]audit.Entry, error) {
	if _, err := e.requireActor(ctx, actorToken, permission.ResourceAuditLog, permission.ActionRead, "audit.query", RequestMeta{}); err != nil {
		return nil, err
	}
	return e.recorder.store.Query(ctx, audit.Filter{
		ActorUserID: userID,
		Window:      window,
		Limit:       limit,
	})
}

// PHIAccessReport returns every PHI-flagged entry inside the window.
func (e *Engine) PHIAccessReport(ctx context.Context, actorToken string, window audit.Window, limit int) ([]audit.Entry, error) {
	if _, err := e.requireActor(ctx, actorToken, permission.ResourceAuditLog, permission.ActionRead, "audit.query", RequestMeta{}); err != nil {
		return nil, err
	}
	return e.recorder.store.Query(ctx, audit.Filter{
		OnlyPHI: true,
		Window:  window,
		Limit:   limit,
	})
}

// ComplianceReport aggregates the audit trail over the window.
func (e *Engine) ComplianceReport(ctx context.Context, actorToken string, window audit.Window) (*audit.ComplianceReport, error) {
	if _, err := e.requireActor(ctx, actorToken, permission.ResourceAuditLog, permission.ActionExport, "audit.report", RequestMeta{}); err != nil {
		return nil, err
	}
	return audit.BuildReport(ctx, e.recorder.store, window)
}
