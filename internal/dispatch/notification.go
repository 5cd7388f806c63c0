// Package dispatch delivers reminder notifications through the in-app, email
// and browser channels and keeps the append-only notification log.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"followup-engine/internal/followup"

	"github.com/google/uuid"
)

// Notification is one delivered reminder. TriggerOffset is nil for manual
// sends.
type Notification struct {
	ID            string           `json:"id"`
	FollowUpID    string           `json:"followUpId"`
	UserID        string           `json:"userId"`
	Channel       followup.Channel `json:"channel"`
	FiredAt       time.Time        `json:"firedAt"`
	TriggerOffset *followup.Offset `json:"triggerOffset,omitempty"`
	Escalated     bool             `json:"escalated,omitempty"`
	Manual        bool             `json:"manual"`
	Subject       string           `json:"subject"`
	Body          string           `json:"body"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
}

// NewScheduled builds the notification for a due reminder of r.
func NewScheduled(r *followup.Record, due followup.DueReminder, now time.Time) *Notification {
	offset := due.Key.Offset
	n := newNotification(r, due.Channel, now)
	n.TriggerOffset = &offset
	n.Escalated = due.Key.Escalated
	return n
}

// NewManual builds a one-off "send now" notification.
func NewManual(r *followup.Record, channel followup.Channel, now time.Time) *Notification {
	n := newNotification(r, channel, now)
	n.Manual = true
	return n
}

func newNotification(r *followup.Record, channel followup.Channel, now time.Time) *Notification {
	data := map[string]string{
		"subject":  r.Subject,
		"priority": string(r.Priority),
		"due":      dueLabel(r, now),
		"dueDate":  r.DueDate.In(r.Location()).Format("Mon, 02 Jan 2006 15:04 MST"),
		"contact":  contactLabel(r.Contact),
	}

	tmpl := reminderTemplate
	if r.Priority == followup.PriorityUrgent || r.Priority == followup.PriorityHigh {
		tmpl = priorityReminderTemplate
	}

	return &Notification{
		ID:         uuid.NewString(),
		FollowUpID: r.ID,
		UserID:     r.UserID,
		Channel:    channel,
		FiredAt:    now,
		Subject:    renderTemplate(tmpl.subject, data),
		Body:       renderTemplate(tmpl.body, data),
	}
}

type template struct {
	subject string
	body    string
}

var (
	reminderTemplate = template{
		subject: "Follow-up reminder: {{subject}}",
		body:    "Your follow-up \"{{subject}}\"{{contact}} is {{due}} ({{dueDate}}).",
	}
	priorityReminderTemplate = template{
		subject: "[{{priority}}] Follow-up reminder: {{subject}}",
		body:    "Your {{priority}} priority follow-up \"{{subject}}\"{{contact}} is {{due}} ({{dueDate}}).",
	}
)

func dueLabel(r *followup.Record, now time.Time) string {
	switch r.DueBucket(now) {
	case followup.DueOverdue:
		return "overdue"
	case followup.DueToday:
		return "due today"
	case followup.DueTomorrow:
		return "due tomorrow"
	default:
		return "coming up"
	}
}

func contactLabel(c *followup.Contact) string {
	switch {
	case c == nil:
		return ""
	case c.Name != "":
		return " with " + c.Name
	case c.Email != "":
		return " with " + c.Email
	}
	return ""
}

// renderTemplate replaces {{key}} placeholders and drops unknown ones.
func renderTemplate(tmpl string, data map[string]string) string {
	result := tmpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func (n *Notification) String() string {
	return fmt.Sprintf("%s/%s/%s", n.FollowUpID, n.Channel, n.ID)
}
