package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
)

// Middleware adapts guards to chi middleware. The principal must already be
// resolved into the request context by the auth middleware.
type Middleware struct {
	Registry *Registry
	Logger   *slog.Logger
}

// Guard runs guards in order before next; failures become problem responses.
func (m Middleware) Guard(guards ...Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, g := range guards {
				if err := g(r.Context()); err != nil {
					if httpx.StatusFor(err) == http.StatusInternalServerError && m.Logger != nil {
						m.Logger.Error("rbac guard", slog.String("path", r.URL.Path), slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects anonymous requests with 401.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return m.Guard(RequireAuth())
}

// RequireRole requires role, or a role below it in the hierarchy.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.Guard(m.Registry.RequireRole(role))
}

// RequirePermission requires perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.Guard(m.Registry.RequirePermission(perm))
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.Guard(m.Registry.RequireAny(perms...))
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.Guard(m.Registry.RequireAll(perms...))
}
