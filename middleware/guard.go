package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/halcyon-health/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified claims a [Guard] or [Require]
// middleware stored on the request.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return claims, ok
}

// Guard authenticates the bearer token and stores its claims on the request
// context. It does not check permissions; wrap handlers in [Require] for
// that.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.VerifyToken(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require runs the full access check for one (resource, action) pair: token,
// session liveness, permission matrix, and the synchronous audit write. The
// request proceeds only on an allowed, audited decision.
func Require(engine *authcore.Engine, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			meta := authcore.RequestMeta{
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
			}
			decision, err := engine.VerifyAccess(r.Context(), token, resource, action, meta)
			if err != nil || !decision.Allowed {
				_, status := authcore.ErrorCode(err)
				http.Error(w, http.StatusText(status), status)
				return
			}

			claims := &authcore.Claims{
				UserID:    decision.UserID,
				Role:      decision.Role,
				SessionID: decision.SessionID,
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
