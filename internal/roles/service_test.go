package roles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/internal/users/userstest"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

func newService(t *testing.T) (*roles.Service, *rbac.Registry, *users.Service) {
	t.Helper()
	registry := rbac.NewRegistry()
	require.NoError(t, registry.ApplyPolicy(context.Background(), rbac.CorePolicy()))
	userSvc := users.NewService(userstest.NewMemoryRepository(), users.WithRoleChecker(registry))
	return roles.NewService(registry, userSvc, nil), registry, userSvc
}

func TestCreateRoleInheritsParent(t *testing.T) {
	svc, _, _ := newService(t)
	detail, err := svc.CreateRole(context.Background(), roles.CreateRoleInput{
		Name:        "auditor",
		Parent:      shared.RoleViewer,
		Permissions: []string{shared.PermJobsView},
	})
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermJobsView}, detail.Direct)
	require.Contains(t, detail.Effective, shared.PermUsersView)
	require.Contains(t, detail.Effective, shared.PermJobsView)
}

func TestCreateRoleRejectsDuplicatesAndUnknownGrants(t *testing.T) {
	svc, registry, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, roles.CreateRoleInput{Name: shared.RoleViewer})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)

	_, err = svc.CreateRole(ctx, roles.CreateRoleInput{Name: "ghost", Permissions: []string{"nope"}})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	require.False(t, registry.RoleExists("ghost"))

	_, err = svc.CreateRole(ctx, roles.CreateRoleInput{})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestUpdateRoleRejectsCycle(t *testing.T) {
	svc, _, _ := newService(t)
	parent := shared.RoleAdmin
	_, err := svc.UpdateRole(context.Background(), shared.RoleViewer, roles.UpdateRoleInput{Parent: &parent})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)
}

func TestGrantAndRevokePermission(t *testing.T) {
	svc, registry, _ := newService(t)
	ctx := context.Background()
	viewer := &shared.Principal{UserID: 7, Roles: []string{shared.RoleViewer}}

	require.False(t, registry.HasPermission(viewer, shared.PermJobsView))
	require.NoError(t, svc.GrantPermission(ctx, shared.RoleViewer, shared.PermJobsView))
	require.True(t, registry.HasPermission(viewer, shared.PermJobsView))
	require.NoError(t, svc.RevokePermission(ctx, shared.RoleViewer, shared.PermJobsView))
	require.False(t, registry.HasPermission(viewer, shared.PermJobsView))
}

func TestGrantToUserAndRevokeFromUser(t *testing.T) {
	svc, _, userSvc := newService(t)
	ctx := context.Background()
	user, err := userSvc.CreateUser(ctx, users.CreateUserInput{Username: "gina", Email: "gina@example.com", Password: "long-enough"})
	require.NoError(t, err)

	got, err := svc.GrantToUser(ctx, user.ID, shared.RoleEditor)
	require.NoError(t, err)
	require.Equal(t, []string{shared.RoleEditor}, got)

	// Granting twice is a no-op.
	got, err = svc.GrantToUser(ctx, user.ID, shared.RoleEditor)
	require.NoError(t, err)
	require.Equal(t, []string{shared.RoleEditor}, got)

	_, err = svc.GrantToUser(ctx, user.ID, "root")
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	got, err = svc.RevokeFromUser(ctx, user.ID, shared.RoleEditor)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = svc.GrantToUser(ctx, 999, shared.RoleEditor)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteRoleWithChildrenFails(t *testing.T) {
	svc, _, _ := newService(t)
	require.ErrorIs(t, svc.DeleteRole(context.Background(), shared.RoleViewer), shared.ErrInvalidHierarchy)
	require.NoError(t, svc.DeleteRole(context.Background(), shared.RoleAdmin))
}
