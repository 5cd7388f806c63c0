package followup

import (
	"strings"
	"time"

	"followup-engine/internal/common/errors"
)

// DefaultDetectionLead is the due date distance used when the detector does
// not suggest one.
const DefaultDetectionLead = 72 * time.Hour

// Detection is the answer of the follow-up detector for one email.
type Detection struct {
	NeedsFollowUp bool       `json:"needsFollowUp"`
	Reason        string     `json:"reason"`
	KeyPoints     []string   `json:"keyPoints"`
	SuggestedDate *time.Time `json:"suggestedDate,omitempty"`
}

// EmailContext carries the email fields copied onto a detected follow-up.
type EmailContext struct {
	MessageID string
	Subject   string
	From      Contact
	Priority  Priority
	TimeZone  string
}

// FromDetection turns a positive detection into creation parameters. The
// detector only seeds field values; it never affects scheduling.
func FromDetection(userID string, d Detection, email EmailContext, now time.Time) (NewRecordParams, error) {
	if !d.NeedsFollowUp {
		return NewRecordParams{}, errors.NewValidationError("needsFollowUp", "detector found no follow-up needed")
	}

	subject := strings.TrimSpace(d.Reason)
	if subject == "" {
		subject = strings.TrimSpace(email.Subject)
	}

	due := now.Add(DefaultDetectionLead)
	if d.SuggestedDate != nil && !d.SuggestedDate.IsZero() {
		due = *d.SuggestedDate
	}

	var contact *Contact
	if email.From.Name != "" || email.From.Email != "" {
		c := email.From
		contact = &c
	}

	return NewRecordParams{
		UserID:    userID,
		Subject:   subject,
		Contact:   contact,
		Priority:  email.Priority,
		DueDate:   due,
		TimeZone:  email.TimeZone,
		KeyPoints: append([]string{}, d.KeyPoints...),
		Source:    email.MessageID,
	}, nil
}
