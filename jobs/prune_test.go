package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

type fakePruner struct {
	tokensBefore time.Time
	loginsBefore time.Time
	rows         int64
	err          error
}

func (f *fakePruner) PruneExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	f.tokensBefore = before
	return f.rows, f.err
}

func (f *fakePruner) PruneLoginHistory(_ context.Context, before time.Time) (int64, error) {
	f.loginsBefore = before
	return f.rows, f.err
}

func newTestJob(t *testing.T, pruner Pruner) (*PruneJob, *prometheus.Registry, time.Time) {
	t.Helper()
	reg := prometheus.NewRegistry()
	job := NewPruneJob(pruner, nil, jobmetrics.NewMetrics(reg))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }
	return job, reg, now
}

func TestPruneTokensUsesPayloadRetention(t *testing.T) {
	pruner := &fakePruner{rows: 4}
	job, reg, now := newTestJob(t, pruner)

	task, err := NewPruneTokensTask(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskPruneTokens, task.Type())
	require.NoError(t, job.HandleTokens(context.Background(), task))
	require.Equal(t, now.Add(-48*time.Hour), pruner.tokensBefore)

	require.Equal(t, float64(4), counterValue(t, reg, "odyssey_jobs_pruned_rows_total"))
}

func TestPruneLoginsDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	job, _, now := newTestJob(t, pruner)

	task := asynq.NewTask(TaskPruneLogins, nil)
	require.NoError(t, job.HandleLogins(context.Background(), task))
	require.Equal(t, now.Add(-DefaultLoginRetention), pruner.loginsBefore)
}

func TestPruneBadPayloadSkipsRetry(t *testing.T) {
	job, _, _ := newTestJob(t, &fakePruner{})
	err := job.HandleTokens(context.Background(), asynq.NewTask(TaskPruneTokens, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPruneFailureCounted(t *testing.T) {
	boom := errors.New("db down")
	job, reg, _ := newTestJob(t, &fakePruner{err: boom})

	payload, _ := json.Marshal(PrunePayload{RetentionHours: 1})
	err := job.HandleTokens(context.Background(), asynq.NewTask(TaskPruneTokens, payload))
	require.ErrorIs(t, err, boom)

	require.Equal(t, float64(1), counterValue(t, reg, "odyssey_jobs_failures_total"))
}

func TestNewTaskRejectsUnknownType(t *testing.T) {
	_, err := NewTask("email:send", time.Hour)
	require.Error(t, err)

	task, err := NewTask(TaskPruneLogins, 0)
	require.NoError(t, err)
	var payload PrunePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, DefaultLoginRetention, payload.Retention(DefaultLoginRetention))
}

func TestStatusWithoutInspector(t *testing.T) {
	status, err := Status(nil)
	require.NoError(t, err)
	require.Equal(t, QueueDefault, status.Queue)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
