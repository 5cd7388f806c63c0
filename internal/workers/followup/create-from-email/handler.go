// internal/workers/followup/create-from-email/handler.go
package createfromemail

import (
	"context"
	"encoding/json"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/common/validation"
	"followup-engine/internal/followup"
	"followup-engine/internal/service"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "followup-create-from-email"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// Creator creates follow-ups from emails.
type Creator interface {
	CreateFromEmail(ctx context.Context, userID string, in service.EmailInput) (*followup.Record, *followup.Detection, error)
}

type Handler struct {
	config       *Config
	creator      Creator
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, creator Creator, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		creator:      creator,
		logger:       l,
		errorHandler: errors.NewErrorHandler(l),
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	in := service.EmailInput{
		MessageID: input.MessageID,
		Subject:   input.Subject,
		Body:      input.Body,
		Priority:  followup.Priority(input.Priority),
		TimeZone:  input.TimeZone,
	}
	if input.From != nil {
		in.From = followup.Contact{Name: input.From.Name, Email: input.From.Email}
	}
	if input.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339, input.ReceivedAt)
		if err != nil {
			return nil, errors.NewValidationError("receivedAt", "expected an RFC 3339 timestamp")
		}
		in.ReceivedAt = t
	}

	r, d, err := h.creator.CreateFromEmail(ctx, input.UserID, in)
	if err != nil {
		return nil, err
	}

	output := &Output{NeedsFollowUp: d.NeedsFollowUp, Reason: d.Reason, KeyPoints: d.KeyPoints}
	if r != nil {
		output.FollowUpID = r.ID
		output.DueDate = r.DueDate.UTC().Format(time.RFC3339)
	}

	h.logger.Info("email processed", map[string]interface{}{
		"messageId":     input.MessageID,
		"needsFollowUp": output.NeedsFollowUp,
		"followUpId":    output.FollowUpID,
	})
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
