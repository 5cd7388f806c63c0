package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/followup"
)

// MemoryStore is an in-process RecordStore. It backs local runs without a
// database and the package tests of its callers.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*followup.Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*followup.Record)}
}

func (s *MemoryStore) Create(_ context.Context, r *followup.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; exists {
		return errors.NewValidationError("id", "follow-up already exists")
	}
	r.Version = 1
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*followup.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("follow-up", id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, r *followup.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[r.ID]
	if !ok {
		return errors.NewNotFoundError("follow-up", r.ID)
	}
	if cur.Version != r.Version {
		return errors.NewStaleWriteError(r.ID, r.Version)
	}
	r.Version++
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return errors.NewNotFoundError("follow-up", id)
	}
	delete(s.records, id)
	return nil
}

func matches(r *followup.Record, f ListFilter) bool {
	switch {
	case f.UserID != "" && r.UserID != f.UserID:
		return false
	case f.Status != nil && r.Status != *f.Status:
		return false
	case f.Priority != nil && r.Priority != *f.Priority:
		return false
	case f.DueBefore != nil && !r.DueDate.Before(*f.DueBefore):
		return false
	case f.DueAfter != nil && !r.DueDate.After(*f.DueAfter):
		return false
	}
	return true
}

func (s *MemoryStore) sorted(keep func(*followup.Record) bool) []*followup.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*followup.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*followup.Record, int, error) {
	all := s.sorted(func(r *followup.Record) bool { return matches(r, f) })
	return page(all, f.Limit, f.Offset), len(all), nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*followup.Record, error) {
	return s.sorted(func(r *followup.Record) bool {
		return r.Eligible() && r.Reminders.Enabled
	}), nil
}

func (s *MemoryStore) ConfirmDispatch(_ context.Context, id string, dueDate time.Time, key followup.DispatchKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || !r.DueDate.Equal(dueDate) {
		return false, nil
	}
	if !r.MarkDispatched(key) {
		return false, nil
	}
	r.Version++
	return true, nil
}
