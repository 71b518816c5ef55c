package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Access log actions.
const (
	LogActionLogin            = "LOGIN"
	LogActionLogout           = "LOGOUT"
	LogActionPrivilegeChanged = "PRIVILEGE_CHANGED"
	LogActionPrivilegeDefined = "PRIVILEGE_DEFINED"
)

// AccessLog is a record stored in access_logs.
type AccessLog struct {
	UserID string
	Action string
	Meta   map[string]any
	At     time.Time
}

// AccessLogger writes security-relevant events into access_logs.
type AccessLogger struct {
	pool *pgxpool.Pool
}

// NewAccessLogger returns a new AccessLogger.
func NewAccessLogger(pool *pgxpool.Pool) *AccessLogger {
	return &AccessLogger{pool: pool}
}

// Record persists the log entry.
func (l *AccessLogger) Record(ctx context.Context, log AccessLog) error {
	if l == nil || l.pool == nil {
		return errors.New("access logger not initialised")
	}
	if log.UserID == "" || log.Action == "" {
		return errors.New("access log requires user_id and action")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO access_logs (user_id, action, meta, occurred_at) VALUES ($1, $2, $3, $4)`,
		log.UserID, log.Action, metaJSON, at)
	return err
}

// LastAction returns the most recent access log entry for a user and action,
// or ErrNotFound when none exists.
func (l *AccessLogger) LastAction(ctx context.Context, userID, action string) (*AccessLog, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("access logger not initialised")
	}
	row := l.pool.QueryRow(ctx,
		`SELECT user_id, action, occurred_at FROM access_logs WHERE user_id = $1 AND action = $2 ORDER BY occurred_at DESC LIMIT 1`,
		userID, action)
	var entry AccessLog
	if err := row.Scan(&entry.UserID, &entry.Action, &entry.At); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Cleanup removes entries older than the retention window.
func (l *AccessLogger) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if l == nil || l.pool == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := l.pool.Exec(ctx, `DELETE FROM access_logs WHERE occurred_at < $1`, cutoff)
	return err
}
