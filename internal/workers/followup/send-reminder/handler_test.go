// internal/workers/followup/send-reminder/handler_test.go
package sendreminder

import (
	"context"
	"testing"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/followup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	SendNowFunc func(ctx context.Context, userID, id, target string) ([]*dispatch.Notification, error)
}

func (m *MockSender) SendNow(ctx context.Context, userID, id, target string) ([]*dispatch.Notification, error) {
	return m.SendNowFunc(ctx, userID, id, target)
}

func createTestHandler(t *testing.T, sender ReminderSender) *Handler {
	h := NewHandler(LoadConfig(), sender, logger.NewTestLogger(t))
	h.now = func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestHandler_Execute(t *testing.T) {
	sender := &MockSender{SendNowFunc: func(_ context.Context, userID, id, target string) ([]*dispatch.Notification, error) {
		assert.Equal(t, "user-1", userID)
		assert.Equal(t, "fu-1", id)
		assert.Equal(t, "all", target)
		return []*dispatch.Notification{
			{ID: "n-1", Channel: followup.ChannelInApp, Manual: true},
			{ID: "n-2", Channel: followup.ChannelEmail, Manual: true},
		}, nil
	}}

	output, err := createTestHandler(t, sender).Execute(context.Background(), &Input{UserID: "user-1", FollowUpID: "fu-1", Channel: "all"})
	require.NoError(t, err)
	assert.Equal(t, &Output{
		NotificationIDs: []string{"n-1", "n-2"},
		Channels:        []string{"in-app", "email"},
		SentAt:          "2024-06-10T12:00:00Z",
	}, output)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      errors.ErrorCode
		retryable bool
	}{
		{"closed follow-up", errors.NewInvalidTransitionError("completed", "send-reminder"), errors.ErrCodeInvalidTransition, false},
		{"unknown follow-up", errors.NewNotFoundError("follow-up", "fu-1"), errors.ErrCodeNotFound, false},
		{"channel down", errors.NewDispatchFailedError("email", assert.AnError), errors.ErrCodeDispatchFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{SendNowFunc: func(context.Context, string, string, string) ([]*dispatch.Notification, error) {
				return nil, tt.err
			}}

			output, err := createTestHandler(t, sender).Execute(context.Background(), &Input{UserID: "u", FollowUpID: "fu-1"})
			assert.Nil(t, output)
			assert.True(t, errors.IsCode(err, tt.code))
			assert.Equal(t, tt.retryable, errors.ConvertToBPMNError(errors.Normalize(err)).Retries > 0)
		})
	}
}

func TestInputSchema(t *testing.T) {
	assert.True(t, schema.ValidateInput(map[string]interface{}{"userId": "u", "followUpId": "f"}).Valid)
	assert.True(t, schema.ValidateInput(map[string]interface{}{"userId": "u", "followUpId": "f", "channel": "browser"}).Valid)
	assert.False(t, schema.ValidateInput(map[string]interface{}{"userId": "u"}).Valid)
	assert.False(t, schema.ValidateInput(map[string]interface{}{"userId": "u", "followUpId": "f", "channel": "sms"}).Valid)
}
