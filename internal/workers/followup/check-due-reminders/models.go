// internal/workers/followup/check-due-reminders/models.go
package checkduereminders

// Input is empty in practice; the timer event that starts the job carries no
// variables the pass needs.
type Input struct {
	Trigger string `json:"trigger,omitempty"`
}

type Output struct {
	Due     int    `json:"remindersDue"`
	Sent    int    `json:"remindersSent"`
	Skipped int    `json:"remindersSkipped"`
	Failed  int    `json:"remindersFailed"`
	RanAt   string `json:"ranAt"` // ISO 8601
}
