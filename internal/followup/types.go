// Package followup holds the follow-up lifecycle core: the record, its status
// state machine, its reminder schedule with priority compression, the due
// reminder query and snoozing. Everything here is pure; persistence and
// delivery live behind interfaces in other packages.
package followup

import (
	"fmt"
	"strings"

	"followup-engine/internal/common/errors"
)

// Priority of a follow-up.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority parses a priority, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", errors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", s))
	}
	return p, nil
}

// Status of a follow-up.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusIgnored    Status = "ignored"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusIgnored:
		return true
	}
	return false
}

// Open reports whether reminders may fire for a follow-up in this status.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// ParseStatus parses a status, case-insensitively. "in_progress" is accepted
// as an alias of "in-progress".
func ParseStatus(s string) (Status, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	st := Status(normalized)
	if !st.Valid() {
		return "", errors.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Channel a reminder is delivered through.
type Channel string

const (
	ChannelInApp   Channel = "in-app"
	ChannelEmail   Channel = "email"
	ChannelBrowser Channel = "browser"
)

// ChannelAll selects every channel for a manual send.
const ChannelAll = "all"

// AllChannels lists the channels in their canonical order.
var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelBrowser}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c.rank() >= 0
}

func (c Channel) rank() int {
	for i, known := range AllChannels {
		if c == known {
			return i
		}
	}
	return -1
}

// ParseChannel parses a single delivery channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", errors.NewValidationError("channel", fmt.Sprintf("unknown channel %q", s))
	}
	return c, nil
}

// ResolveChannels expands a manual send target into channels. An empty
// target or "all" means every channel.
func ResolveChannels(target string) ([]Channel, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" || target == ChannelAll {
		out := make([]Channel, len(AllChannels))
		copy(out, AllChannels)
		return out, nil
	}
	c, err := ParseChannel(target)
	if err != nil {
		return nil, err
	}
	return []Channel{c}, nil
}
