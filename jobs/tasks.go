package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/formworks-app/formworks/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePrivilegesChanged notifies that a user's privilege set changed.
	TaskTypePrivilegesChanged = "privileges:changed"
	// TaskTypeAccessLogCleanup prunes expired access-log rows.
	TaskTypeAccessLogCleanup = "accesslog:cleanup"
)

// PrivilegesChangedPayload identifies the affected user.
type PrivilegesChangedPayload struct {
	UserID string `json:"user_id"`
}

// NewPrivilegesChangedTask constructs an Asynq task.
func NewPrivilegesChangedTask(payload PrivilegesChangedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePrivilegesChanged, data), nil
}

// NewPrivilegesChangedHandler processes TaskTypePrivilegesChanged tasks.
// TODO: deliver a notification email once the platform grows an SMTP relay.
func NewPrivilegesChangedHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PrivilegesChangedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("privileges changed", slog.String("user_id", payload.UserID))
		return nil
	}
}

// AccessLogCleanupPayload carries the retention window as a duration string.
type AccessLogCleanupPayload struct {
	OlderThan string `json:"older_than"`
}

// NewAccessLogCleanupTask constructs an Asynq task.
func NewAccessLogCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AccessLogCleanupPayload{OlderThan: retention.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAccessLogCleanup, data), nil
}

// NewAccessLogCleanupHandler processes TaskTypeAccessLogCleanup tasks.
func NewAccessLogCleanupHandler(accessLog *shared.AccessLogger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AccessLogCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		olderThan, err := time.ParseDuration(payload.OlderThan)
		if err != nil {
			return asynq.SkipRetry
		}
		if err := accessLog.Cleanup(ctx, olderThan); err != nil {
			return err
		}
		logger.Info("access log cleanup done", slog.String("older_than", payload.OlderThan))
		return nil
	}
}
