package followup

import (
	"time"

	"followup-engine/internal/common/errors"
)

// Event drives a status transition.
type Event string

const (
	EventStart        Event = "start"
	EventComplete     Event = "complete"
	EventIgnore       Event = "ignore"
	EventReopen       Event = "reopen"
	EventSendReminder Event = "send-reminder"
)

var transitions = map[Event]struct {
	from []Status
	to   Status
}{
	EventStart:    {from: []Status{StatusPending}, to: StatusInProgress},
	EventComplete: {from: []Status{StatusPending, StatusInProgress}, to: StatusCompleted},
	EventIgnore:   {from: []Status{StatusPending, StatusInProgress}, to: StatusIgnored},
	EventReopen:   {from: []Status{StatusCompleted, StatusIgnored}, to: StatusPending},
}

// NextStatus returns the status reached from s on event, or an
// INVALID_TRANSITION error.
func NextStatus(s Status, event Event) (Status, error) {
	t, ok := transitions[event]
	if !ok {
		return s, errors.NewInvalidTransitionError(string(s), string(event))
	}
	for _, from := range t.from {
		if from == s {
			return t.to, nil
		}
	}
	return s, errors.NewInvalidTransitionError(string(s), string(event))
}

// ReachableFrom lists the statuses one transition away from s.
func ReachableFrom(s Status) []Status {
	var out []Status
	seen := map[Status]bool{}
	for _, ev := range []Event{EventStart, EventComplete, EventIgnore, EventReopen} {
		if to, err := NextStatus(s, ev); err == nil && !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	return out
}

// Start moves a pending follow-up to in-progress.
func (r *Record) Start(now time.Time) error {
	return r.transition(EventStart, now, nil)
}

// Complete closes the follow-up and stamps completion metadata.
func (r *Record) Complete(notes string, now time.Time) error {
	return r.transition(EventComplete, now, &notes)
}

// Ignore closes the follow-up without completing it.
func (r *Record) Ignore(now time.Time) error {
	return r.transition(EventIgnore, now, nil)
}

// Reopen returns a closed follow-up to pending and clears completion
// metadata. The reminder schedule is untouched, so reminders resume.
func (r *Record) Reopen(now time.Time) error {
	return r.transition(EventReopen, now, nil)
}

// Apply runs a lifecycle event by name. Notes are used only by complete.
func (r *Record) Apply(event Event, notes string, now time.Time) error {
	switch event {
	case EventStart:
		return r.Start(now)
	case EventComplete:
		return r.Complete(notes, now)
	case EventIgnore:
		return r.Ignore(now)
	case EventReopen:
		return r.Reopen(now)
	}
	return errors.NewInvalidTransitionError(string(r.Status), string(event))
}

func (r *Record) transition(event Event, now time.Time, notes *string) error {
	to, err := NextStatus(r.Status, event)
	if err != nil {
		return err
	}

	r.Status = to
	switch to {
	case StatusCompleted:
		at := now
		n := ""
		if notes != nil {
			n = *notes
		}
		r.CompletedAt = &at
		r.CompletionNotes = &n
	default:
		r.CompletedAt = nil
		r.CompletionNotes = nil
	}
	r.UpdatedAt = now
	return nil
}
