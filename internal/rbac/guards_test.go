package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func asAlice() context.Context {
	return shared.ContextWithPrincipal(context.Background(), alice())
}

func TestProtectRunsGuardsBeforeOperation(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	called := false
	op := func(ctx context.Context) error {
		called = true
		return nil
	}

	err := Protect(op, RequireAuth(), r.RequirePermission("delete"))(asAlice())
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.False(t, called)

	require.NoError(t, Protect(op, RequireAuth(), r.RequirePermission("write"))(asAlice()))
	require.True(t, called)
}

func TestAnonymousIsNeverForbidden(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	anon := context.Background()

	guards := map[string]Guard{
		"auth":       RequireAuth(),
		"role":       r.RequireRole("viewer"),
		"permission": r.RequirePermission("read"),
		"any":        r.RequireAny("read", "write"),
		"all":        r.RequireAll("read"),
	}
	for name, g := range guards {
		err := g(anon)
		require.ErrorIs(t, err, shared.ErrUnauthenticated, name)
		require.False(t, errors.Is(err, shared.ErrForbidden), name)
	}
}

func TestRoleGuardFollowsHierarchy(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	require.NoError(t, r.RequireRole("viewer")(asAlice()))
	require.NoError(t, r.RequireRole("editor")(asAlice()))

	viewer := shared.ContextWithPrincipal(context.Background(), &shared.Principal{UserID: 2, Roles: []string{"viewer"}})
	require.ErrorIs(t, r.RequireRole("editor")(viewer), shared.ErrForbidden)
}

func TestAnyAndAll(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	ctx := asAlice()
	require.NoError(t, r.RequireAny("delete", "write")(ctx))
	require.ErrorIs(t, r.RequireAny("delete")(ctx), shared.ErrForbidden)
	require.NoError(t, r.RequireAny()(ctx))
	require.NoError(t, r.RequireAll("read", "write")(ctx))
	require.ErrorIs(t, r.RequireAll("read", "delete")(ctx), shared.ErrForbidden)
}

func TestDecoratorAliases(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	ok := func(ctx context.Context) error { return nil }

	require.ErrorIs(t, AuthRequired(ok)(context.Background()), shared.ErrUnauthenticated)
	require.NoError(t, AuthRequired(ok)(asAlice()))
	require.NoError(t, r.RoleRequired("viewer", ok)(asAlice()))
	require.ErrorIs(t, r.PermissionRequired("delete", ok)(asAlice()), shared.ErrForbidden)
}

func TestMiddlewareStatusCodes(t *testing.T) {
	r := NewRegistry()
	seedEditorViewer(t, r)
	mw := Middleware{Registry: r}

	router := chi.NewRouter()
	router.With(mw.RequirePermission("write")).Get("/write", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.With(mw.RequirePermission("delete")).Get("/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		path   string
		ctx    context.Context
		status int
	}{
		{"/write", context.Background(), http.StatusUnauthorized},
		{"/write", asAlice(), http.StatusNoContent},
		{"/delete", asAlice(), http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil).WithContext(tc.ctx)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		require.Equal(t, tc.status, res.Code, tc.path)
	}
}
