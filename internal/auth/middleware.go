package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Middleware resolves the request identity before routing.
type Middleware struct {
	service *Service
	logger  *slog.Logger
}

// NewMiddleware builds the identity middleware.
func NewMiddleware(service *Service, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{service: service, logger: logger}
}

// UserAuthBefore attaches a principal to the request context exactly once.
// A bearer token takes precedence over the session cookie; an invalid or
// expired bearer token is rejected with 401 instead of falling back.
func (m *Middleware) UserAuthBefore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if shared.PrincipalResolved(ctx) {
			next.ServeHTTP(w, r)
			return
		}
		var principal *shared.Principal
		if raw, ok := BearerToken(r); ok {
			p, err := m.service.ResolveBearer(ctx, raw)
			if err != nil {
				if httpx.StatusFor(err) == http.StatusInternalServerError {
					m.logger.Error("resolve bearer token", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			principal = p
		} else {
			principal = m.service.GetUserFromSession(ctx, shared.SessionFromContext(ctx))
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(ctx, principal)))
	})
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
