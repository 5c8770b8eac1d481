package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth/authtest"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users/userstest"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

type stubQueue struct {
	triggered []string
	retention time.Duration
	closed    bool
}

func (q *stubQueue) Trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error) {
	if _, err := jobs.NewTask(name, retention); err != nil {
		return nil, err
	}
	q.triggered = append(q.triggered, name)
	q.retention = retention
	return &asynq.TaskInfo{ID: "task-1", Type: name, Queue: jobs.QueueDefault}, nil
}

func (q *stubQueue) InspectQueue(ctx context.Context) (jobs.QueueStatus, error) {
	return jobs.QueueStatus{Queue: jobs.QueueDefault, Pending: 2}, nil
}

func (q *stubQueue) Close() error {
	q.closed = true
	return nil
}

type env struct {
	backend *Backend
	queue   *stubQueue
	opened  int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	registry := rbac.NewRegistry()
	require.NoError(t, registry.ApplyPolicy(context.Background(), rbac.CorePolicy()))
	queue := &stubQueue{}
	e := &env{queue: queue}
	e.backend = NewBackend(userstest.NewMemoryRepository(), authtest.NewMemoryRepository(), registry, queue, queue.Close)
	return e
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(func(ctx context.Context) (*Backend, error) {
		e.opened++
		return e.backend, nil
	})
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCreateAndRoleGrant(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "user", "create", "--username", "carol", "--email", "carol@example.com", "--password", "long-enough", "--role", shared.RoleViewer)
	require.NoError(t, err)
	require.Contains(t, out, "created user 1 (carol)")

	out, err = e.run(t, "-o", "json", "role", "grant", "carol", shared.RoleAdmin)
	require.NoError(t, err)
	var resp struct {
		ID    int64    `json:"id"`
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, int64(1), resp.ID)
	require.ElementsMatch(t, []string{shared.RoleAdmin, shared.RoleViewer}, resp.Roles)

	_, err = e.run(t, "role", "revoke", "carol@example.com", shared.RoleViewer)
	require.NoError(t, err)
	user, err := e.backend.Users.GetUserByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{shared.RoleAdmin}, user.Roles)
}

func TestUserCreateRequiresFlags(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "user", "create", "--username", "dave")
	require.Error(t, err)
	require.Zero(t, e.opened)
}

func TestRoleGrantUnknownRole(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "user", "create", "--username", "erin", "--email", "erin@example.com", "--password", "long-enough")
	require.NoError(t, err)
	_, err = e.run(t, "role", "grant", "erin", "superuser")
	require.Error(t, err)
}

func TestUserDisable(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "user", "create", "--username", "frank", "--email", "frank@example.com", "--password", "long-enough")
	require.NoError(t, err)

	out, err := e.run(t, "user", "disable", "1")
	require.NoError(t, err)
	require.Contains(t, out, "disabled user 1")
	_, err = e.backend.Users.GetUserByID(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = e.run(t, "user", "disable", "nobody")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPolicyApply(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
permissions:
  - name: reports.view
roles:
  - name: auditor
    parent: viewer
    permissions: [reports.view]
`), 0o600))

	out, err := e.run(t, "policy", "apply", "--dry-run", path)
	require.NoError(t, err)
	require.Contains(t, out, "policy ok: 1 permissions, 1 roles")
	require.Zero(t, e.opened)
	require.False(t, e.backend.Registry.RoleExists("auditor"))

	_, err = e.run(t, "policy", "apply", path)
	require.NoError(t, err)
	require.Contains(t, e.backend.Registry.GetPermissionsForRole("auditor"), shared.PermUsersView)
	require.Contains(t, e.backend.Registry.GetPermissionsForRole("auditor"), "reports.view")
}

func TestJobsCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "jobs", "trigger", jobs.TaskPruneTokens, "--retention", "48h")
	require.NoError(t, err)
	require.Contains(t, out, "enqueued "+jobs.TaskPruneTokens)
	require.Equal(t, 48*time.Hour, e.queue.retention)

	_, err = e.run(t, "jobs", "trigger", "email:send")
	require.Error(t, err)

	out, err = e.run(t, "-o", "json", "jobs", "inspect")
	require.NoError(t, err)
	var stats jobs.QueueStatus
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.Pending)
	require.True(t, e.queue.closed)
}
