// internal/workers/followup/send-reminder/models.go
package sendreminder

type Input struct {
	UserID     string `json:"userId"`
	FollowUpID string `json:"followUpId"`
	Channel    string `json:"channel,omitempty"` // channel name or "all"
}

type Output struct {
	NotificationIDs []string `json:"notificationIds"`
	Channels        []string `json:"channels"`
	SentAt          string   `json:"sentAt"` // ISO 8601
}

const inputSchema = `{
	"type": "object",
	"required": ["userId", "followUpId"],
	"properties": {
		"userId":     {"type": "string", "minLength": 1},
		"followUpId": {"type": "string", "minLength": 1},
		"channel":    {"type": "string", "enum": ["all", "in-app", "email", "browser"]}
	}
}`
