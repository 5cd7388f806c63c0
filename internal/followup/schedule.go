package followup

import (
	"fmt"
	"sort"
	"time"

	"followup-engine/internal/common/errors"
)

// ReminderEntry is one rule of a reminder schedule.
type ReminderEntry struct {
	Offset  Offset  `json:"offset"`
	Channel Channel `json:"channel"`
}

// Key identifies the entry within a schedule.
func (e ReminderEntry) Key() EntryKey {
	return EntryKey{Offset: e.Offset, Channel: e.Channel}
}

// EntryKey is the (offset, channel) identity of a schedule entry.
type EntryKey struct {
	Offset  Offset
	Channel Channel
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s/%s", k.Offset, k.Channel)
}

// DispatchKey identifies one firing of a schedule entry. Escalated marks the
// priority-enlarged firing, so the two firings urgent priority produces for a
// single entry are confirmed independently.
type DispatchKey struct {
	Offset    Offset  `json:"offset"`
	Channel   Channel `json:"channel"`
	Escalated bool    `json:"escalated"`
}

// EntryKey projects the dispatch key onto its schedule entry.
func (k DispatchKey) EntryKey() EntryKey {
	return EntryKey{Offset: k.Offset, Channel: k.Channel}
}

func (k DispatchKey) String() string {
	if k.Escalated {
		return fmt.Sprintf("%s/%s/escalated", k.Offset, k.Channel)
	}
	return fmt.Sprintf("%s/%s", k.Offset, k.Channel)
}

func lessDispatchKey(a, b DispatchKey) bool {
	if a.Offset != b.Offset {
		return a.Offset > b.Offset
	}
	if a.Channel != b.Channel {
		return a.Channel.rank() < b.Channel.rank()
	}
	return !a.Escalated && b.Escalated
}

// ReminderSettings is the reminder configuration owned by a follow-up.
type ReminderSettings struct {
	Enabled       bool            `json:"enabled"`
	Schedule      []ReminderEntry `json:"schedule"`
	PriorityBased bool            `json:"priorityBased"`
}

// DefaultReminderSettings is what a new follow-up starts with: one in-app
// reminder a day before the due date.
func DefaultReminderSettings() ReminderSettings {
	return ReminderSettings{
		Enabled:  true,
		Schedule: []ReminderEntry{{Offset: Days(1), Channel: ChannelInApp}},
	}
}

// Clone returns a deep copy.
func (s ReminderSettings) Clone() ReminderSettings {
	out := s
	out.Schedule = append([]ReminderEntry(nil), s.Schedule...)
	return out
}

// Canonicalize validates the settings and returns them deduplicated by
// (offset, channel) and ordered by descending lead time, so entry 0 is the
// earliest reminder. Ties keep the canonical channel order.
func (s ReminderSettings) Canonicalize() (ReminderSettings, error) {
	if len(s.Schedule) == 0 {
		return ReminderSettings{}, errors.NewValidationError("reminderSettings.schedule",
			"schedule must contain at least one reminder")
	}

	seen := make(map[EntryKey]struct{}, len(s.Schedule))
	entries := make([]ReminderEntry, 0, len(s.Schedule))
	for i, e := range s.Schedule {
		if !e.Channel.Valid() {
			return ReminderSettings{}, errors.NewValidationError(
				fmt.Sprintf("reminderSettings.schedule[%d].channel", i),
				fmt.Sprintf("unknown channel %q", e.Channel))
		}
		if !e.Offset.InRange() {
			return ReminderSettings{}, errors.NewValidationError(
				fmt.Sprintf("reminderSettings.schedule[%d].offset", i),
				fmt.Sprintf("offset must be within %s of the due date", MaxOffset))
		}
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Offset != entries[j].Offset {
			return entries[i].Offset > entries[j].Offset
		}
		return entries[i].Channel.rank() < entries[j].Channel.rank()
	})

	return ReminderSettings{
		Enabled:       s.Enabled,
		Schedule:      entries,
		PriorityBased: s.PriorityBased,
	}, nil
}

// Has reports whether the schedule contains the entry key.
func (s ReminderSettings) Has(k EntryKey) bool {
	for _, e := range s.Schedule {
		if e.Key() == k {
			return true
		}
	}
	return false
}

type leadFactor struct {
	factor    float64
	escalated bool
}

// leadFactors returns the effective lead-time multipliers for an entry.
// Compression moves reminders earlier. A positive lead time grows. A post-due
// offset is never scaled up, since that would fire later: high leaves it
// alone and urgent adds an escalated nudge halfway to the due date.
func leadFactors(priority Priority, priorityBased bool, offset Offset) []leadFactor {
	if !priorityBased {
		return []leadFactor{{factor: 1}}
	}
	switch {
	case priority == PriorityHigh && offset > 0:
		return []leadFactor{{factor: 1.5, escalated: true}}
	case priority == PriorityUrgent && offset > 0:
		return []leadFactor{{factor: 2, escalated: true}, {factor: 1}}
	case priority == PriorityUrgent:
		return []leadFactor{{factor: 0.5, escalated: true}, {factor: 1}}
	default:
		return []leadFactor{{factor: 1}}
	}
}

// EffectiveReminder is a schedule entry after priority compression, placed on
// the timeline of a concrete due date.
type EffectiveReminder struct {
	Key             DispatchKey `json:"key"`
	Channel         Channel     `json:"channel"`
	RawOffset       Offset      `json:"rawOffset"`
	EffectiveOffset Offset      `json:"effectiveOffset"`
	FireAt          time.Time   `json:"fireAt"`
}

// EffectiveSchedule computes the effective reminders of settings for a due
// date and priority. Fire times never precede notBefore (the record's
// creation time) when it is set. The result is ordered by fire time.
func EffectiveSchedule(settings ReminderSettings, priority Priority, due, notBefore time.Time) []EffectiveReminder {
	out := make([]EffectiveReminder, 0, len(settings.Schedule))
	for _, e := range settings.Schedule {
		for _, lf := range leadFactors(priority, settings.PriorityBased, e.Offset) {
			eff := e.Offset.Scale(lf.factor)
			fireAt := due.Add(-eff.Duration())
			if !notBefore.IsZero() && fireAt.Before(notBefore) {
				fireAt = notBefore
			}
			out = append(out, EffectiveReminder{
				Key:             DispatchKey{Offset: e.Offset, Channel: e.Channel, Escalated: lf.escalated},
				Channel:         e.Channel,
				RawOffset:       e.Offset,
				EffectiveOffset: eff,
				FireAt:          fireAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return lessDispatchKey(out[i].Key, out[j].Key)
	})
	return out
}
