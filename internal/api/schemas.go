package api

import "followup-engine/internal/common/validation"

const contactSchema = `{
	"type": ["object", "null"],
	"properties": {
		"name":  {"type": "string", "maxLength": 200},
		"email": {"type": "string", "maxLength": 320}
	},
	"additionalProperties": false
}`

const reminderSettingsSchema = `{
	"type": "object",
	"required": ["enabled", "schedule"],
	"properties": {
		"enabled":       {"type": "boolean"},
		"priorityBased": {"type": "boolean"},
		"schedule": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["offset", "channel"],
				"properties": {
					"offset":  {"type": "string", "minLength": 1, "maxLength": 32},
					"channel": {"type": "string", "enum": ["in-app", "email", "browser"]}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

var createSchema = validation.MustCompile("create-followup", `{
	"type": "object",
	"required": ["subject", "dueDate"],
	"properties": {
		"subject":          {"type": "string", "minLength": 1, "maxLength": 500},
		"contact":          `+contactSchema+`,
		"priority":         {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"dueDate":          {"type": "string", "format": "date-time"},
		"timeZone":         {"type": "string"},
		"notes":            {"type": "string"},
		"keyPoints":        {"type": "array", "items": {"type": "string"}},
		"reminderSettings": `+reminderSettingsSchema+`
	},
	"additionalProperties": false
}`)

var updateSchema = validation.MustCompile("update-followup", `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"subject":   {"type": "string", "minLength": 1, "maxLength": 500},
		"contact":   `+contactSchema+`,
		"priority":  {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"dueDate":   {"type": "string", "format": "date-time"},
		"timeZone":  {"type": "string"},
		"notes":     {"type": "string"},
		"keyPoints": {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": false
}`)

var detectSchema = validation.MustCompile("detect-followup", `{
	"type": "object",
	"required": ["subject", "body"],
	"properties": {
		"messageId":  {"type": "string"},
		"subject":    {"type": "string"},
		"body":       {"type": "string", "minLength": 1},
		"from":       `+contactSchema+`,
		"receivedAt": {"type": "string", "format": "date-time"},
		"priority":   {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"timeZone":   {"type": "string"}
	},
	"additionalProperties": false
}`)

var completeSchema = validation.MustCompile("complete-followup", `{
	"type": "object",
	"properties": {
		"notes": {"type": "string"}
	},
	"additionalProperties": false
}`)

var snoozeSchema = validation.MustCompile("snooze-followup", `{
	"type": "object",
	"required": ["days"],
	"properties": {
		"days": {"type": "integer", "minimum": 1, "maximum": 365}
	},
	"additionalProperties": false
}`)

var remindersSchema = validation.MustCompile("reminder-settings", reminderSettingsSchema)

// remindersViewSchema accepts the body GET /followups/:id/reminders returns.
// Only settings is applied; the derived fields are ignored.
var remindersViewSchema = validation.MustCompile("reminder-view", `{
	"type": "object",
	"required": ["settings"],
	"properties": {
		"settings":   `+reminderSettingsSchema+`,
		"effective":  {"type": ["array", "null"]},
		"dispatched": {"type": ["array", "null"]}
	},
	"additionalProperties": false
}`)

var sendSchema = validation.MustCompile("send-reminder", `{
	"type": "object",
	"properties": {
		"channel": {"type": "string", "enum": ["all", "in-app", "email", "browser"]}
	},
	"additionalProperties": false
}`)
