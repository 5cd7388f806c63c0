package dispatch

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/followup"
)

// NotificationLog is the append-only record of delivered notifications.
type NotificationLog interface {
	Append(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
}

// PostgresLog writes to the notifications table.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, n *Notification) error {
	var offset interface{}
	if n.TriggerOffset != nil {
		offset = n.TriggerOffset.String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO notifications (id, follow_up_id, user_id, channel, fired_at, trigger_offset, escalated, manual, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.FollowUpID, n.UserID, string(n.Channel), n.FiredAt, offset, n.Escalated, n.Manual, n.Subject, n.Body,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert notification", err)
	}
	return nil
}

func (l *PostgresLog) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, follow_up_id, user_id, channel, fired_at, trigger_offset, escalated, manual, subject, body, read_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY fired_at DESC LIMIT $2`

	rows, err := l.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list notifications", err)
	}
	defer rows.Close()

	out := []*Notification{}
	for rows.Next() {
		var (
			n      Notification
			offset sql.NullString
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.FollowUpID, &n.UserID, &n.Channel, &n.FiredAt, &offset,
			&n.Escalated, &n.Manual, &n.Subject, &n.Body, &readAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("list notifications", err)
		}
		if offset.Valid {
			if o, err := followup.ParseOffset(offset.String); err == nil {
				n.TriggerOffset = &o
			}
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list notifications", err)
	}
	return out, nil
}

func (l *PostgresLog) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`,
		id, userID, at)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark notification read", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("notification", id)
	}
	return nil
}

// MemoryLog is an in-process NotificationLog.
type MemoryLog struct {
	mu      sync.Mutex
	entries []*Notification
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, n *Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *n
	l.entries = append(l.entries, &cp)
	return nil
}

func (l *MemoryLog) ListForUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []*Notification{}
	for _, n := range l.entries {
		if n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLog) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.entries {
		if n.ID == id && n.UserID == userID {
			if n.ReadAt == nil {
				t := at
				n.ReadAt = &t
			}
			return nil
		}
	}
	return errors.NewNotFoundError("notification", id)
}

// All returns every logged notification in append order.
func (l *MemoryLog) All() []*Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Notification, 0, len(l.entries))
	for _, n := range l.entries {
		cp := *n
		out = append(out, &cp)
	}
	return out
}
