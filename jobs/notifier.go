package jobs

import (
	"context"
	"log/slog"
)

// Notifier enqueues privilege-change notifications. It satisfies
// privileges.Notifier and is strictly best effort: enqueue failures are
// logged and swallowed.
type Notifier struct {
	client *Client
	logger *slog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(client *Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger}
}

// PrivilegesChanged enqueues a notification task for userID.
func (n *Notifier) PrivilegesChanged(ctx context.Context, userID string) {
	if n == nil || n.client == nil {
		return
	}
	if _, err := n.client.EnqueuePrivilegesChanged(ctx, PrivilegesChangedPayload{UserID: userID}); err != nil {
		n.logger.Warn("enqueue privilege change notification", slog.String("user_id", userID), slog.Any("error", err))
	}
}
