package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/halcyon-health/authcore/audit"
	"github.com/halcyon-health/authcore/permission"
)

// Register creates an account. The password must satisfy the strength policy
// and the role must exist in the permission matrix; only the argon2id hash is
// stored.
func (e *Engine) Register(ctx context.Context, req RegisterRequest, meta RequestMeta) (*RegisterResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email are required", ErrDuplicateIdentity)
	}
	if !e.matrix.KnownRole(req.Role) {
		return nil, fmt.Errorf("%w: %q", ErrRoleUnknown, req.Role)
	}
	if err := e.policy.Check(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := e.users.Create(ctx, CreateUserInput{
		UserID:       uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			e.metricInc(MetricRegisterDuplicate)
		}
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	if err := e.record(ctx, user.UserID, "user.register", permission.ResourceUser, user.UserID, "", meta,
		audit.StatusSuccess, false, map[string]string{"role": user.Role}); err != nil {
		return nil, err
	}

	return &RegisterResult{
		UserID:    user.UserID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}, nil
}

// ChangePassword re-verifies the current password, enforces the policy on
// the new one, rejects reuse, and revokes every session of the user so
// stolen refresh tokens die with the old password.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string, meta RequestMeta) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return ErrAccountDisabled
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if newPassword == oldPassword {
		return ErrPasswordReuse
	}
	if err := e.policy.Check(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user", userID).Msg("session revocation after password change incomplete")
	}
	if err := e.limiter.Reset(ctx, userID); err != nil {
		e.logger.Warn().Err(err).Str("user", userID).Msg("lockout reset failed after password change")
	}

	e.metricInc(MetricPasswordChanged)
	return e.record(ctx, userID, "user.password_change", permission.ResourceUser, userID, "", meta,
		audit.StatusSuccess, false, map[string]string{"sessions_revoked": strconv.Itoa(revoked)})
}
