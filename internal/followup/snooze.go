package followup

import (
	"fmt"
	"time"

	"followup-engine/internal/common/errors"
)

// Snooze pushes the due date out by whole calendar days in the record's zone,
// keeping the wall-clock time, and clears the dispatched reminders so they
// fire again against the new date. Status is left as is.
func (r *Record) Snooze(days int, now time.Time) error {
	if days < 1 {
		return errors.NewValidationError("days", fmt.Sprintf("snooze days must be at least 1, got %d", days))
	}
	local := r.DueDate.In(r.Location())
	r.DueDate = local.AddDate(0, 0, days)
	r.clearDispatched()
	r.UpdatedAt = now
	return nil
}

// CheckSendNow reports whether a manual reminder may be sent.
func (r *Record) CheckSendNow() error {
	if !r.Eligible() {
		return errors.NewInvalidTransitionError(string(r.Status), string(EventSendReminder))
	}
	return nil
}
