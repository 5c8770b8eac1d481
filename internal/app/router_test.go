package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/auth/authtest"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/internal/users/userstest"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	registry := rbac.NewRegistry()
	for _, perm := range shared.CoreScopes() {
		_, err := registry.RegisterPermission(ctx, perm, "")
		require.NoError(t, err)
	}
	_, err := registry.RegisterRole(ctx, shared.RoleViewer, "", "")
	require.NoError(t, err)
	_, err = registry.RegisterRole(ctx, shared.RoleAdmin, shared.RoleViewer, "")
	require.NoError(t, err)
	require.NoError(t, registry.SetRolePermissions(ctx, shared.RoleViewer, []string{shared.PermUsersView}))
	require.NoError(t, registry.SetRolePermissions(ctx, shared.RoleAdmin, []string{shared.PermUsersEdit, shared.PermRolesView}))

	userSvc := users.NewService(userstest.NewMemoryRepository(), users.WithRoleChecker(registry))
	authSvc := auth.NewService(userSvc, authtest.NewMemoryRepository())
	userSvc.SetTokenRevoker(authSvc)
	_, err = userSvc.CreateUser(ctx, users.CreateUserInput{
		Username: "root", Email: "root@example.com", Password: "correct-horse", Roles: []string{shared.RoleAdmin},
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "iam_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	rbacMW := rbac.Middleware{Registry: registry}

	return app.NewRouter(app.RouterParams{
		Config:             &app.Config{AppEnv: "test", RateLimitPerMinute: 1000},
		SessionManager:     sessions,
		CSRFManager:        csrf,
		AuthMiddleware:     auth.NewMiddleware(authSvc, nil),
		AuthHandler:        auth.NewHandler(nil, authSvc, sessions, csrf, registry),
		UsersHandler:       users.NewHandler(nil, userSvc, rbacMW),
		RolesHandler:       roles.NewHandler(nil, roles.NewService(registry, userSvc, nil), rbacMW),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, registry, rbacMW),
		RBACMiddleware:     rbacMW,
		Metrics:            observability.NewMetrics(),
	})
}

func serve(t *testing.T, h http.Handler, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	res := serve(t, router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"status":"ok"}`, res.Body.String())
}

func TestAnonymousIsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)
	res := serve(t, router, http.MethodGet, "/users/", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
}

func TestCookiePostRequiresCSRF(t *testing.T) {
	router := newTestRouter(t)
	login := map[string]string{"identifier": "root", "password": "correct-horse"}

	res := serve(t, router, http.MethodPost, "/auth/login", login, nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = serve(t, router, http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var tok struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.CSRFToken)
	cookies := res.Result().Cookies()
	require.NotEmpty(t, cookies)

	res = serve(t, router, http.MethodPost, "/auth/login", login, func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
		r.Header.Set(shared.CSRFHeader, tok.CSRFToken)
	})
	require.Equal(t, http.StatusOK, res.Code)
}

func loginBearer(t *testing.T, router http.Handler) func(*http.Request) {
	t.Helper()
	csrfRes := serve(t, router, http.MethodGet, "/auth/csrf", nil, nil)
	var tok struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(csrfRes.Body.Bytes(), &tok))
	res := serve(t, router, http.MethodPost, "/auth/login", map[string]string{"identifier": "root", "password": "correct-horse"}, func(r *http.Request) {
		for _, c := range csrfRes.Result().Cookies() {
			r.AddCookie(c)
		}
		r.Header.Set(shared.CSRFHeader, tok.CSRFToken)
	})
	require.Equal(t, http.StatusOK, res.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+login.Token) }
}

func TestBearerRequestsSkipCSRFAndHonourGrants(t *testing.T) {
	router := newTestRouter(t)
	bearer := loginBearer(t, router)

	// users.view is inherited from viewer.
	res := serve(t, router, http.MethodGet, "/users/", nil, bearer)
	require.Equal(t, http.StatusOK, res.Code)

	res = serve(t, router, http.MethodPost, "/users/", map[string]any{
		"username": "bob", "email": "bob@example.com", "password": "builder-pass",
	}, bearer)
	require.Equal(t, http.StatusCreated, res.Code)

	// permissions.view was never granted.
	res = serve(t, router, http.MethodGet, "/permissions/", nil, bearer)
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	serve(t, router, http.MethodGet, "/users/", nil, nil)
	res := serve(t, router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "odyssey_http_requests_total")
}

func TestUserEditsCannotAssignRolesWithoutRolesEdit(t *testing.T) {
	router := newTestRouter(t)
	bearer := loginBearer(t, router)

	// root holds users.edit through admin but not roles.edit.
	res := serve(t, router, http.MethodPut, "/roles/admin/users/1", nil, bearer)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = serve(t, router, http.MethodPost, "/users/", map[string]any{
		"username": "mallory", "email": "mallory@example.com", "password": "builder-pass", "roles": []string{shared.RoleAdmin},
	}, bearer)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = serve(t, router, http.MethodPatch, "/users/1", map[string]any{
		"roles": []string{shared.RoleAdmin, shared.RoleViewer},
	}, bearer)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = serve(t, router, http.MethodGet, "/users/availability?username=mallory", nil, bearer)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"username":true}`, res.Body.String())

	// Edits that leave roles alone still go through.
	res = serve(t, router, http.MethodPatch, "/users/1", map[string]any{"email": "root2@example.com"}, bearer)
	require.Equal(t, http.StatusOK, res.Code)
	var user struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &user))
	require.Equal(t, []string{shared.RoleAdmin}, user.Roles)
}
