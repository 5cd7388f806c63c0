package followup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"followup-engine/internal/common/errors"

	"github.com/google/uuid"
)

// Contact is the person the follow-up is about.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Record is a follow-up.
type Record struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	Subject             string           `json:"subject"`
	Contact             *Contact         `json:"contact,omitempty"`
	Priority            Priority         `json:"priority"`
	DueDate             time.Time        `json:"dueDate"`
	TimeZone            string           `json:"timeZone"`
	Status              Status           `json:"status"`
	Notes               string           `json:"notes"`
	KeyPoints           []string         `json:"keyPoints"`
	Reminders           ReminderSettings `json:"reminderSettings"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
	CompletionNotes     *string          `json:"completionNotes,omitempty"`
	DispatchedReminders []DispatchKey    `json:"dispatchedReminders"`
	Source              string           `json:"source,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	Version             int64            `json:"version"`
}

// NewRecordParams are the caller supplied fields of a new follow-up.
type NewRecordParams struct {
	UserID    string
	Subject   string
	Contact   *Contact
	Priority  Priority
	DueDate   time.Time
	TimeZone  string
	Notes     string
	KeyPoints []string
	Reminders *ReminderSettings
	Source    string
}

// NewRecord builds a pending follow-up with defaults applied: medium
// priority, UTC and the default reminder schedule.
func NewRecord(p NewRecordParams, now time.Time) (*Record, error) {
	r := &Record{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Subject:   strings.TrimSpace(p.Subject),
		Contact:   cloneContact(p.Contact),
		Priority:  p.Priority,
		DueDate:   p.DueDate,
		TimeZone:  p.TimeZone,
		Status:    StatusPending,
		Notes:     p.Notes,
		KeyPoints: append([]string{}, p.KeyPoints...),
		Reminders: DefaultReminderSettings(),
		Source:    p.Source,

		DispatchedReminders: []DispatchKey{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.TimeZone == "" {
		r.TimeZone = "UTC"
	}
	if p.Reminders != nil {
		canonical, err := p.Reminders.Canonicalize()
		if err != nil {
			return nil, err
		}
		r.Reminders = canonical
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the record invariants.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return errors.NewValidationError("subject", "subject is required")
	}
	if !r.Priority.Valid() {
		return errors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", r.Priority))
	}
	if !r.Status.Valid() {
		return errors.NewValidationError("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.DueDate.IsZero() {
		return errors.NewValidationError("dueDate", "due date is required")
	}
	if _, err := time.LoadLocation(r.TimeZone); err != nil {
		return errors.NewValidationError("timeZone", fmt.Sprintf("unknown time zone %q", r.TimeZone))
	}
	if _, err := r.Reminders.Canonicalize(); err != nil {
		return err
	}

	completed := r.Status == StatusCompleted
	if completed != (r.CompletedAt != nil) || completed != (r.CompletionNotes != nil) {
		return errors.NewValidationError("completedAt", "completion metadata must be present exactly when completed")
	}

	for _, k := range r.DispatchedReminders {
		if !r.Reminders.Has(k.EntryKey()) {
			return errors.NewValidationError("dispatchedReminders",
				fmt.Sprintf("dispatched reminder %s is not in the schedule", k))
		}
	}
	return nil
}

// Location returns the record's time zone, UTC when it cannot be loaded.
func (r *Record) Location() *time.Location {
	if loc, err := time.LoadLocation(r.TimeZone); err == nil {
		return loc
	}
	return time.UTC
}

// Eligible reports whether reminders may fire for the record.
func (r *Record) Eligible() bool {
	return r.Status.Open()
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Contact = cloneContact(r.Contact)
	out.KeyPoints = append([]string{}, r.KeyPoints...)
	out.Reminders = r.Reminders.Clone()
	out.DispatchedReminders = append([]DispatchKey{}, r.DispatchedReminders...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.CompletionNotes != nil {
		n := *r.CompletionNotes
		out.CompletionNotes = &n
	}
	return &out
}

func cloneContact(c *Contact) *Contact {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}

// HasDispatched reports whether the reminder key was already confirmed for
// the current due date.
func (r *Record) HasDispatched(k DispatchKey) bool {
	for _, d := range r.DispatchedReminders {
		if d == k {
			return true
		}
	}
	return false
}

// MarkDispatched records a dispatch confirmation. It is idempotent and
// returns false when the key was already present or is not in the schedule.
func (r *Record) MarkDispatched(k DispatchKey) bool {
	if r.HasDispatched(k) || !r.Reminders.Has(k.EntryKey()) {
		return false
	}
	r.DispatchedReminders = append(r.DispatchedReminders, k)
	sort.Slice(r.DispatchedReminders, func(i, j int) bool {
		return lessDispatchKey(r.DispatchedReminders[i], r.DispatchedReminders[j])
	})
	return true
}

func (r *Record) clearDispatched() {
	r.DispatchedReminders = []DispatchKey{}
}

// Reschedule moves the due date. Any change clears the dispatched set so
// reminders fire again against the new date.
func (r *Record) Reschedule(due time.Time, now time.Time) error {
	if due.IsZero() {
		return errors.NewValidationError("dueDate", "due date is required")
	}
	if due.Equal(r.DueDate) {
		return nil
	}
	r.DueDate = due
	r.clearDispatched()
	r.UpdatedAt = now
	return nil
}

// SetReminderSettings replaces the schedule wholesale. Dispatch
// confirmations whose entry still exists are kept, so unchanged reminders do
// not fire twice; the rest are dropped.
func (r *Record) SetReminderSettings(s ReminderSettings, now time.Time) error {
	canonical, err := s.Canonicalize()
	if err != nil {
		return err
	}

	kept := make([]DispatchKey, 0, len(r.DispatchedReminders))
	for _, k := range r.DispatchedReminders {
		if canonical.Has(k.EntryKey()) {
			kept = append(kept, k)
		}
	}

	r.Reminders = canonical
	r.DispatchedReminders = kept
	r.UpdatedAt = now
	return nil
}

// RecordUpdate is a partial edit. Nil fields are left untouched.
type RecordUpdate struct {
	Subject   *string
	Contact   **Contact
	Priority  *Priority
	DueDate   *time.Time
	TimeZone  *string
	Notes     *string
	KeyPoints *[]string
}

// ApplyUpdate applies an edit atomically: the update is validated on a copy
// and only committed when the result is valid.
func (r *Record) ApplyUpdate(u RecordUpdate, now time.Time) error {
	next := r.Clone()
	if u.Subject != nil {
		next.Subject = strings.TrimSpace(*u.Subject)
	}
	if u.Contact != nil {
		next.Contact = cloneContact(*u.Contact)
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.TimeZone != nil {
		next.TimeZone = *u.TimeZone
	}
	if u.Notes != nil {
		next.Notes = *u.Notes
	}
	if u.KeyPoints != nil {
		next.KeyPoints = append([]string{}, (*u.KeyPoints)...)
	}
	if u.DueDate != nil {
		if err := next.Reschedule(*u.DueDate, now); err != nil {
			return err
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}

	next.UpdatedAt = now
	*r = *next
	return nil
}

// DueBucket classifies the record's due date relative to now in the
// record's time zone.
func (r *Record) DueBucket(now time.Time) DueBucket {
	return ClassifyDueDate(r.DueDate, now, r.Location())
}

// EffectiveReminders returns the record's schedule after priority
// compression, ordered by fire time.
func (r *Record) EffectiveReminders() []EffectiveReminder {
	return EffectiveSchedule(r.Reminders, r.Priority, r.DueDate, r.CreatedAt)
}
