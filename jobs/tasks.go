package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPruneTokens deletes auth tokens past their expiry plus retention.
	TaskPruneTokens = "auth:prune_tokens"
	// TaskPruneLogins deletes login history older than the retention window.
	TaskPruneLogins = "auth:prune_logins"
)

// Default retention windows.
const (
	DefaultTokenRetention = 7 * 24 * time.Hour
	DefaultLoginRetention = 90 * 24 * time.Hour
)

// PrunePayload carries the retention window for prune tasks.
type PrunePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention converts the payload to a duration, falling back to def.
func (p PrunePayload) Retention(def time.Duration) time.Duration {
	if p.RetentionHours <= 0 {
		return def
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewPruneTokensTask constructs an Asynq task pruning expired tokens.
func NewPruneTokensTask(retention time.Duration) (*asynq.Task, error) {
	return newPruneTask(TaskPruneTokens, retention)
}

// NewPruneLoginsTask constructs an Asynq task pruning login history.
func NewPruneLoginsTask(retention time.Duration) (*asynq.Task, error) {
	return newPruneTask(TaskPruneLogins, retention)
}

// NewTask builds a prune task by type name, used by the CLI.
func NewTask(taskType string, retention time.Duration) (*asynq.Task, error) {
	switch taskType {
	case TaskPruneTokens, TaskPruneLogins:
		return newPruneTask(taskType, retention)
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", taskType)
	}
}

func newPruneTask(taskType string, retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}
