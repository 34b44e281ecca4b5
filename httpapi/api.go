// Package httpapi binds the authcore engine to an echo router. Responses use
// a uniform envelope: {"success": true, ...} or {"success": false, "code",
// "message"}; internal error detail never reaches the wire.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	authcore "github.com/halcyon-health/authcore"
	"github.com/halcyon-health/authcore/audit"
)

// Handler carries the engine into the route handlers.
type Handler struct {
	engine *authcore.Engine
	logger zerolog.Logger
}

func NewHandler(engine *authcore.Engine, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes mounts every endpoint under the given group, typically
// e.Group("/v1").
func (h *Handler) RegisterRoutes(g *echo.Group) {
	auth := g.Group("/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/mfa/confirm", h.confirmMFA)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)
	auth.POST("/password", h.changePassword)
	auth.POST("/mfa/setup", h.setupTOTP)
	auth.POST("/mfa/enable", h.enableTOTP)
	auth.POST("/mfa/disable", h.disableTOTP)
	auth.POST("/mfa/backup-codes", h.regenerateBackupCodes)

	g.POST("/access/verify", h.verifyAccess)

	admin := g.Group("/admin")
	admin.PUT("/users/:id/role", h.grantRole)
	admin.PUT("/users/:id/active", h.setUserActive)
	admin.GET("/users/:id/sessions", h.listSessions)
	admin.DELETE("/users/:id/sessions", h.revokeAllSessions)
	admin.DELETE("/sessions/:sid", h.revokeSession)
	admin.POST("/roles/:role/permissions", h.grantRolePermission)
	admin.DELETE("/roles/:role/permissions", h.revokeRolePermission)

	auditGroup := g.Group("/audit")
	auditGroup.GET("/users/:id", h.auditByUser)
	auditGroup.GET("/phi", h.phiReport)
	auditGroup.GET("/report", h.complianceReport)
}

func meta(c echo.Context) authcore.RequestMeta {
	return authcore.RequestMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func bearer(c echo.Context) string {
	const prefix = "Bearer "
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func ok(c echo.Context, payload map[string]interface{}) error {
	body := map[string]interface{}{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

func (h *Handler) fail(c echo.Context, err error) error {
	code, status := authcore.ErrorCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"code":    code,
		"message": http.StatusText(status),
	})
}

func (h *Handler) register(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrWeakPassword)
	}

	result, err := h.engine.Register(c.Request().Context(), authcore.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"user": result})
}

func (h *Handler) login(c echo.Context) error {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrInvalidCredentials)
	}

	result, err := h.engine.Login(c.Request().Context(), req.Identifier, req.Password, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	if result.MFARequired {
		return ok(c, map[string]interface{}{
			"mfa_required": true,
			"challenge":    result.MFAChallenge,
		})
	}
	return ok(c, map[string]interface{}{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"session_id":    result.SessionID,
	})
}

func (h *Handler) confirmMFA(c echo.Context) error {
	var req struct {
		Challenge string `json:"challenge"`
		Code      string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrInvalidMFACode)
	}

	result, err := h.engine.ConfirmLoginMFA(c.Request().Context(), req.Challenge, req.Code, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"session_id":    result.SessionID,
	})
}

func (h *Handler) refresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrRefreshInvalid)
	}

	pair, err := h.engine.Refresh(c.Request().Context(), req.RefreshToken, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *Handler) logout(c echo.Context) error {
	if err := h.engine.Logout(c.Request().Context(), bearer(c), meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) changePassword(c echo.Context) error {
	claims, err := h.engine.VerifyToken(c.Request().Context(), bearer(c))
	if err != nil {
		return h.fail(c, err)
	}

	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrWeakPassword)
	}

	if err := h.engine.ChangePassword(c.Request().Context(), claims.UserID, req.OldPassword, req.NewPassword, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) setupTOTP(c echo.Context) error {
	claims, err := h.engine.VerifyToken(c.Request().Context(), bearer(c))
	if err != nil {
		return h.fail(c, err)
	}

	setup, err := h.engine.SetupTOTP(c.Request().Context(), claims.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{
		"secret": setup.SecretBase32,
		"uri":    setup.URI,
	})
}

func (h *Handler) enableTOTP(c echo.Context) error {
	claims, err := h.engine.VerifyToken(c.Request().Context(), bearer(c))
	if err != nil {
		return h.fail(c, err)
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrInvalidMFACode)
	}

	codes, err := h.engine.ConfirmTOTP(c.Request().Context(), claims.UserID, req.Code, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"backup_codes": codes})
}

func (h *Handler) disableTOTP(c echo.Context) error {
	claims, err := h.engine.VerifyToken(c.Request().Context(), bearer(c))
	if err != nil {
		return h.fail(c, err)
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrInvalidCredentials)
	}

	if err := h.engine.DisableTOTP(c.Request().Context(), claims.UserID, req.Password, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) regenerateBackupCodes(c echo.Context) error {
	claims, err := h.engine.VerifyToken(c.Request().Context(), bearer(c))
	if err != nil {
		return h.fail(c, err)
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrInvalidCredentials)
	}

	codes, err := h.engine.RegenerateBackupCodes(c.Request().Context(), claims.UserID, req.Password, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"backup_codes": codes})
}

func (h *Handler) verifyAccess(c echo.Context) error {
	var req struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrPermissionDenied)
	}

	decision, err := h.engine.VerifyAccess(c.Request().Context(), bearer(c), req.Resource, req.Action, meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"decision": decision})
}

func (h *Handler) grantRole(c echo.Context) error {
	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrRoleUnknown)
	}

	if err := h.engine.GrantRole(c.Request().Context(), bearer(c), c.Param("id"), req.Role, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) setUserActive(c echo.Context) error {
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrUserNotFound)
	}

	if err := h.engine.SetUserActive(c.Request().Context(), bearer(c), c.Param("id"), req.Active, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) listSessions(c echo.Context) error {
	sessions, err := h.engine.ListSessions(c.Request().Context(), bearer(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) revokeAllSessions(c echo.Context) error {
	revoked, err := h.engine.RevokeAllSessions(c.Request().Context(), bearer(c), c.Param("id"), meta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"revoked": revoked})
}

func (h *Handler) revokeSession(c echo.Context) error {
	if err := h.engine.RevokeSession(c.Request().Context(), bearer(c), c.Param("sid"), meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) grantRolePermission(c echo.Context) error {
	var req struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrRoleUnknown)
	}

	if err := h.engine.GrantRolePermission(c.Request().Context(), bearer(c), c.Param("role"), req.Resource, req.Action, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func (h *Handler) revokeRolePermission(c echo.Context) error {
	var req struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if err := c.Bind(&req); err != nil {
		return h.fail(c, authcore.ErrRoleUnknown)
	}

	if err := h.engine.RevokeRolePermission(c.Request().Context(), bearer(c), c.Param("role"), req.Resource, req.Action, meta(c)); err != nil {
		return h.fail(c, err)
	}
	return ok(c, nil)
}

func queryWindow(c echo.Context) audit.Window {
	var w audit.Window
	if from := c.QueryParam("from"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			w.From = ts
		}
	}
	if to := c.QueryParam("to"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			w.To = ts
		}
	}
	return w
}

func queryLimit(c echo.Context) int {
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func (h *Handler) auditByUser(c echo.Context) error {
	entries, err := h.engine.AuditByUser(c.Request().Context(), bearer(c), c.Param("id"), queryWindow(c), queryLimit(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"entries": entries})
}

func (h *Handler) phiReport(c echo.Context) error {
	entries, err := h.engine.PHIAccessReport(c.Request().Context(), bearer(c), queryWindow(c), queryLimit(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"entries": entries})
}

func (h *Handler) complianceReport(c echo.Context) error {
	report, err := h.engine.ComplianceReport(c.Request().Context(), bearer(c), queryWindow(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, map[string]interface{}{"report": report})
}
