// internal/workers/followup/send-reminder/handler.go
package sendreminder

import (
	"context"
	"encoding/json"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/common/validation"
	"followup-engine/internal/dispatch"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "followup-send-reminder"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// ReminderSender sends a manual reminder for a follow-up.
type ReminderSender interface {
	SendNow(ctx context.Context, userID, id, target string) ([]*dispatch.Notification, error)
}

type Handler struct {
	config       *Config
	sender       ReminderSender
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	now          func() time.Time
}

func NewHandler(config *Config, sender ReminderSender, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		sender:       sender,
		logger:       l,
		errorHandler: errors.NewErrorHandler(l),
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	defer func() {
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	vars, err := job.GetVariablesAsMap()
	if err != nil {
		h.fail(client, job, errors.NewInputParsingFailedError(err))
		return
	}
	if err := schema.ValidateInput(vars).Err(); err != nil {
		h.fail(client, job, err)
		return
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(client, job, errors.NewInputParsingFailedError(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

// Execute sends the reminder. A channel failure fails the whole job, so a
// retried job sends on every channel again.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	sent, err := h.sender.SendNow(ctx, input.UserID, input.FollowUpID, input.Channel)
	if err != nil {
		if len(sent) > 0 {
			h.logger.Warn("manual reminder partially sent", map[string]interface{}{
				"followUpId": input.FollowUpID,
				"sent":       len(sent),
			})
		}
		return nil, err
	}

	output := &Output{
		NotificationIDs: make([]string, 0, len(sent)),
		Channels:        make([]string, 0, len(sent)),
		SentAt:          h.now().UTC().Format(time.RFC3339),
	}
	for _, n := range sent {
		output.NotificationIDs = append(output.NotificationIDs, n.ID)
		output.Channels = append(output.Channels, string(n.Channel))
	}
	return output, nil
}

func (h *Handler) fail(client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}
