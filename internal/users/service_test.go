package users_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/internal/users/userstest"
)

type roleSet map[string]bool

func (r roleSet) RoleExists(name string) bool { return r[name] }

type recordingRevoker struct {
	calls []int64
	err   error
}

func (r *recordingRevoker) RevokeUserTokens(ctx context.Context, userID int64) error {
	r.calls = append(r.calls, userID)
	return r.err
}

func newService(t *testing.T) (*users.Service, *userstest.MemoryRepository, *recordingRevoker) {
	t.Helper()
	repo := userstest.NewMemoryRepository()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := users.NewService(repo,
		users.WithRoleChecker(roleSet{"viewer": true, "editor": true}),
		users.WithClock(func() time.Time { return now }),
	)
	rev := &recordingRevoker{}
	svc.SetTokenRevoker(rev)
	return svc, repo, rev
}

func createAlice(t *testing.T, svc *users.Service) *users.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), users.CreateUserInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "wonderland",
		Roles:    []string{"editor"},
	})
	require.NoError(t, err)
	return u
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, _, _ := newService(t)
	u := createAlice(t, svc)
	require.NotZero(t, u.ID)
	require.True(t, u.IsActive)
	require.NotEqual(t, "wonderland", u.PasswordHash)
	require.True(t, users.VerifyPassword("wonderland", u.PasswordHash))
	require.Equal(t, []string{"editor"}, u.Roles)
}

func TestCreateUserDuplicateIsCaseInsensitive(t *testing.T) {
	svc, _, _ := newService(t)
	createAlice(t, svc)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, users.CreateUserInput{Username: "ALICE", Email: "other@example.com", Password: "wonderland"})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)
	require.Contains(t, err.Error(), "username")

	_, err = svc.CreateUser(ctx, users.CreateUserInput{Username: "bob", Email: "Alice@Example.COM", Password: "wonderland"})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)
	require.Contains(t, err.Error(), "email")
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreateUser(context.Background(), users.CreateUserInput{Username: "bob", Email: "bob@example.com", Password: "password1", Roles: []string{"root"}})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCreateUserInvalidInput(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreateUser(context.Background(), users.CreateUserInput{Username: "b", Email: "bad", Password: "x"})
	var verr *users.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 3)
}

func TestLookupsAreCaseInsensitive(t *testing.T) {
	svc, _, _ := newService(t)
	alice := createAlice(t, svc)
	ctx := context.Background()

	got, err := svc.GetUserByUsername(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	got, err = svc.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	got, err = svc.FindByIdentifier(ctx, "alice@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	_, err = svc.FindByIdentifier(ctx, "nobody")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetUserByID(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateUserPartial(t *testing.T) {
	svc, _, rev := newService(t)
	alice := createAlice(t, svc)
	ctx := context.Background()

	email := "alice@wonderland.test"
	updated, err := svc.UpdateUser(ctx, alice.ID, users.UpdateUserInput{Email: &email})
	require.NoError(t, err)
	require.Equal(t, email, updated.Email)
	require.Equal(t, "alice", updated.Username)
	require.Empty(t, rev.calls)

	password := "new-password"
	_, err = svc.UpdateUser(ctx, alice.ID, users.UpdateUserInput{Password: &password})
	require.NoError(t, err)
	stored, err := svc.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.True(t, users.VerifyPassword(password, stored.PasswordHash))

	inactive := false
	_, err = svc.UpdateUser(ctx, alice.ID, users.UpdateUserInput{IsActive: &inactive})
	require.NoError(t, err)
	require.Equal(t, []int64{alice.ID}, rev.calls)

	_, err = svc.UpdateUser(ctx, 404, users.UpdateUserInput{Email: &email})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateUserDuplicateUsername(t *testing.T) {
	svc, _, _ := newService(t)
	createAlice(t, svc)
	bob, err := svc.CreateUser(context.Background(), users.CreateUserInput{Username: "bob", Email: "bob@example.com", Password: "password1"})
	require.NoError(t, err)

	name := "Alice"
	_, err = svc.UpdateUser(context.Background(), bob.ID, users.UpdateUserInput{Username: &name})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)
}

func TestDeleteUserSoftDisablesAndRevokes(t *testing.T) {
	svc, repo, rev := newService(t)
	alice := createAlice(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.DeleteUser(ctx, alice.ID))
	require.Equal(t, []int64{alice.ID}, rev.calls)

	_, err := svc.GetUserByID(ctx, alice.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	raw, ok := repo.Raw(alice.ID)
	require.True(t, ok)
	require.False(t, raw.IsActive)
	require.NotNil(t, raw.DeletedAt)

	// Identity stays reserved after deletion.
	available, err := svc.IsUsernameAvailable(ctx, "alice")
	require.NoError(t, err)
	require.False(t, available)

	require.ErrorIs(t, svc.DeleteUser(ctx, alice.ID), shared.ErrNotFound)
}

func TestDeleteUserPropagatesRevokeFailure(t *testing.T) {
	svc, _, rev := newService(t)
	alice := createAlice(t, svc)
	rev.err = errors.New("redis down")
	err := svc.DeleteUser(context.Background(), alice.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis down")
}

func TestAvailability(t *testing.T) {
	svc, _, _ := newService(t)
	createAlice(t, svc)
	ctx := context.Background()

	ok, err := svc.IsUsernameAvailable(ctx, "ALICE")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.IsEmailAvailable(ctx, "carol@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.IsUsernameAvailable(ctx, "   ")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssignRolesAndList(t *testing.T) {
	svc, _, _ := newService(t)
	alice := createAlice(t, svc)
	ctx := context.Background()

	roles, err := svc.AssignRoles(ctx, alice.ID, []string{"viewer", "editor", "viewer"})
	require.NoError(t, err)
	require.Equal(t, []string{"editor", "viewer"}, roles)

	list, err := svc.ListUsers(ctx, users.ListFilter{Role: "viewer"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.AssignRoles(ctx, alice.ID, []string{"ghost"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestPrincipalCopiesRoles(t *testing.T) {
	u := &users.User{ID: 7, Username: "alice", Roles: []string{"editor"}}
	p := u.Principal()
	require.Equal(t, int64(7), p.UserID)
	p.Roles[0] = "admin"
	require.Equal(t, "editor", u.Roles[0])

	var none *users.User
	require.True(t, none.Principal().IsAnonymous())
}
