// Package store persists follow-up records and coordinates reminder dispatch
// between concurrent runners.
package store

import (
	"context"
	"time"

	"followup-engine/internal/followup"
)

// ListFilter selects records for List. Nil fields do not filter.
type ListFilter struct {
	UserID    string
	Status    *followup.Status
	Priority  *followup.Priority
	DueBefore *time.Time
	DueAfter  *time.Time
	Limit     int
	Offset    int
}

// RecordStore is the backing store of follow-up records.
//
// Update is an optimistic write: it succeeds only when the stored version
// equals r.Version, and bumps r.Version on success. A version mismatch is a
// STALE_WRITE error, a missing record NOT_FOUND.
type RecordStore interface {
	Create(ctx context.Context, r *followup.Record) error
	Get(ctx context.Context, id string) (*followup.Record, error)
	Update(ctx context.Context, r *followup.Record) error
	Delete(ctx context.Context, id string) error

	// List returns one page of matches ordered by due date, and the total
	// match count.
	List(ctx context.Context, f ListFilter) ([]*followup.Record, int, error)

	// ListOpen returns every record that may have reminders due: status
	// pending or in-progress with reminders enabled.
	ListOpen(ctx context.Context) ([]*followup.Record, error)

	// ConfirmDispatch adds key to the record's dispatched reminders, provided
	// the record still has dueDate and the key's entry is still scheduled. It
	// is idempotent; it reports false when nothing was written.
	ConfirmDispatch(ctx context.Context, id string, dueDate time.Time, key followup.DispatchKey) (bool, error)
}

func page(records []*followup.Record, limit, offset int) []*followup.Record {
	if offset >= len(records) {
		return []*followup.Record{}
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
