// Package detector calls the GenAI service that decides whether an email
// needs a follow-up.
package detector

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"followup-engine/internal/common/errors"
	commonhttp "followup-engine/internal/common/http"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/followup"
)

const detectPath = "/api/ai/detect-follow-up"

// Email is the detector input.
type Email struct {
	MessageID  string    `json:"messageId,omitempty"`
	From       string    `json:"from,omitempty"`
	FromName   string    `json:"fromName,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the detector API client.
type Client struct {
	baseURL string
	apiKey  string
	http    *commonhttp.Client
	logger  logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    commonhttp.NewClient(cfg.Timeout, cfg.MaxRetries),
		logger:  l.WithFields(map[string]interface{}{"component": "detector"}),
	}
}

type detectResponse struct {
	NeedsFollowUp bool     `json:"needsFollowUp"`
	Reason        string   `json:"reason"`
	KeyPoints     []string `json:"keyPoints"`
	SuggestedDate string   `json:"suggestedDate"`
}

// Detect asks the detector about one email.
func (c *Client) Detect(ctx context.Context, email Email) (*followup.Detection, error) {
	body, err := json.Marshal(email)
	if err != nil {
		return nil, errors.NewInputParsingFailedError(err)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+detectPath, body, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewDetectorTimeoutError()
		}
		return nil, errors.NewDetectorFailedError(err)
	}
	defer resp.Body.Close()

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewDetectorFailedError(err)
	}

	d := &followup.Detection{
		NeedsFollowUp: out.NeedsFollowUp,
		Reason:        out.Reason,
		KeyPoints:     out.KeyPoints,
	}
	if t, ok := parseSuggestedDate(out.SuggestedDate); ok {
		d.SuggestedDate = &t
	}

	c.logger.Info("follow-up detection finished", map[string]interface{}{
		"messageId":     email.MessageID,
		"needsFollowUp": d.NeedsFollowUp,
		"keyPoints":     len(d.KeyPoints),
	})
	return d, nil
}

// parseSuggestedDate accepts RFC 3339 timestamps and plain dates. A plain
// date means 09:00 UTC on that day.
func parseSuggestedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Add(9 * time.Hour), true
	}
	return time.Time{}, false
}
