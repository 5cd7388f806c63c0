package followup

import (
	"sort"
	"time"
)

// DueReminder is a reminder whose fire time has passed and which has not been
// confirmed yet.
type DueReminder struct {
	FollowUpID      string      `json:"followUpId"`
	UserID          string      `json:"userId"`
	Channel         Channel     `json:"channel"`
	Key             DispatchKey `json:"key"`
	EffectiveOffset Offset      `json:"effectiveOffset"`
	FireAt          time.Time   `json:"fireAt"`
	DueDate         time.Time   `json:"dueDate"`
}

// DueReminders returns every reminder due at now across records. It reads the
// snapshot only; repeated calls return the same result until a dispatch is
// confirmed on a record.
func DueReminders(records []*Record, now time.Time) []DueReminder {
	var out []DueReminder
	for _, r := range records {
		out = append(out, DueRemindersFor(r, now)...)
	}
	SortDueReminders(out)
	return out
}

// SortDueReminders orders reminders by fire time, then follow-up id, then
// dispatch key.
func SortDueReminders(due []DueReminder) {
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.FireAt.Equal(b.FireAt) {
			return a.FireAt.Before(b.FireAt)
		}
		if a.FollowUpID != b.FollowUpID {
			return a.FollowUpID < b.FollowUpID
		}
		return lessDispatchKey(a.Key, b.Key)
	})
}

// DueRemindersFor returns the due reminders of a single record.
func DueRemindersFor(r *Record, now time.Time) []DueReminder {
	if r == nil || !r.Eligible() || !r.Reminders.Enabled {
		return nil
	}

	var out []DueReminder
	for _, eff := range r.EffectiveReminders() {
		if eff.FireAt.After(now) || r.HasDispatched(eff.Key) {
			continue
		}
		out = append(out, DueReminder{
			FollowUpID:      r.ID,
			UserID:          r.UserID,
			Channel:         eff.Channel,
			Key:             eff.Key,
			EffectiveOffset: eff.EffectiveOffset,
			FireAt:          eff.FireAt,
			DueDate:         r.DueDate,
		})
	}
	return out
}

// StillDue re-checks a reminder against a freshly loaded record, just before
// sending.
func StillDue(r *Record, d DueReminder, now time.Time) bool {
	if r == nil || !r.DueDate.Equal(d.DueDate) {
		return false
	}
	for _, cur := range DueRemindersFor(r, now) {
		if cur.Key == d.Key {
			return true
		}
	}
	return false
}
