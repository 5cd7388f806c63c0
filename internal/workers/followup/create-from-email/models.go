// internal/workers/followup/create-from-email/models.go
package createfromemail

type Input struct {
	UserID     string  `json:"userId"`
	MessageID  string  `json:"messageId"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	From       *Sender `json:"from,omitempty"`
	ReceivedAt string  `json:"receivedAt,omitempty"` // ISO 8601
	Priority   string  `json:"priority,omitempty"`
	TimeZone   string  `json:"timeZone,omitempty"`
}

type Sender struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type Output struct {
	NeedsFollowUp bool     `json:"needsFollowUp"`
	FollowUpID    string   `json:"followUpId,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	KeyPoints     []string `json:"keyPoints,omitempty"`
	DueDate       string   `json:"dueDate,omitempty"` // ISO 8601
}

const inputSchema = `{
	"type": "object",
	"required": ["userId", "body"],
	"properties": {
		"userId":     {"type": "string", "minLength": 1},
		"messageId":  {"type": "string"},
		"subject":    {"type": "string"},
		"body":       {"type": "string", "minLength": 1},
		"from": {
			"type": "object",
			"properties": {
				"name":  {"type": "string"},
				"email": {"type": "string"}
			}
		},
		"receivedAt": {"type": "string", "format": "date-time"},
		"priority":   {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"timeZone":   {"type": "string"}
	}
}`
