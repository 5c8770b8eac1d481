package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/jobs"
)

// JobQueue is the queue surface used by the jobs commands.
type JobQueue interface {
	Trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (jobs.QueueStatus, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a prune job by task name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueuePrune(ctx, name, retention)
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (jobs.QueueStatus, error) {
	if c == nil || c.inspector == nil {
		return jobs.QueueStatus{}, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Status(c.inspector)
}

func newJobsCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.AddCommand(newJobsTriggerCmd(app), newJobsInspectCmd(app))
	return cmd
}

func newJobsTriggerCmd(app *cliApp) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:       "trigger <" + jobs.TaskPruneTokens + "|" + jobs.TaskPruneLogins + ">",
		Short:     "Enqueue a prune job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskPruneTokens, jobs.TaskPruneLogins},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				info, err := b.Jobs.Trigger(cmd.Context(), args[0], retention)
				if err != nil {
					return err
				}
				out := map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}
				return render(cmd, out, func(w io.Writer) {
					fmt.Fprintf(w, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Retention window, defaults per job")
	return cmd
}

func newJobsInspectCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withBackend(cmd.Context(), func(b *Backend) error {
				stats, err := b.Jobs.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, stats, func(w io.Writer) {
					fmt.Fprintf(w, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
						stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				})
			})
		},
	}
}
