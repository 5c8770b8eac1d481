package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

// Pruner deletes stale authentication records.
type Pruner interface {
	PruneExpiredTokens(ctx context.Context, before time.Time) (int64, error)
	PruneLoginHistory(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob handles the auth prune tasks.
type PruneJob struct {
	Pruner  Pruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPruneJob initialises the prune handlers.
func NewPruneJob(pruner Pruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	return &PruneJob{
		Pruner:  pruner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleTokens processes TaskPruneTokens.
func (j *PruneJob) HandleTokens(ctx context.Context, t *asynq.Task) error {
	return j.run(ctx, t, TaskPruneTokens, DefaultTokenRetention, func(ctx context.Context, before time.Time) (int64, error) {
		return j.Pruner.PruneExpiredTokens(ctx, before)
	})
}

// HandleLogins processes TaskPruneLogins.
func (j *PruneJob) HandleLogins(ctx context.Context, t *asynq.Task) error {
	return j.run(ctx, t, TaskPruneLogins, DefaultLoginRetention, func(ctx context.Context, before time.Time) (int64, error) {
		return j.Pruner.PruneLoginHistory(ctx, before)
	})
}

func (j *PruneJob) run(ctx context.Context, t *asynq.Task, job string, def time.Duration, prune func(context.Context, time.Time) (int64, error)) (resultErr error) {
	if j == nil || j.Pruner == nil {
		return errors.New("prune: handler not configured")
	}
	var payload PrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(job)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.clock()
	before := start.Add(-payload.Retention(def))
	logger := j.logger().With(slog.String("job", job), slog.Time("before", before))

	n, err := prune(ctx, before)
	if err != nil {
		logger.Error("prune failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPruned(job, n)
	logger.Info("prune completed", slog.Int64("rows", n), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *PruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
