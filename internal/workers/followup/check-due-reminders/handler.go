// internal/workers/followup/check-due-reminders/handler.go
package checkduereminders

import (
	"context"
	"encoding/json"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/metrics"
	"followup-engine/internal/reminders"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "followup-check-due-reminders"
)

// PassRunner runs one reminder scheduler pass.
type PassRunner interface {
	RunOnce(ctx context.Context) (reminders.Stats, error)
}

type Handler struct {
	config       *Config
	runner       PassRunner
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	now          func() time.Time
}

func NewHandler(config *Config, runner PassRunner, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
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

	var input Input
	if vars := job.Variables; vars != "" {
		if err := json.Unmarshal([]byte(vars), &input); err != nil {
			h.fail(client, job, errors.NewInputParsingFailedError(err))
			return
		}
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

// Execute runs one pass. Per-reminder failures are reported in the output;
// only a pass that could not read the records fails the job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	stats, err := h.runner.RunOnce(ctx)
	if err != nil {
		return nil, err
	}

	h.logger.Info("scheduler pass completed", map[string]interface{}{
		"trigger": input.Trigger,
		"due":     stats.Due,
		"sent":    stats.Sent,
		"failed":  stats.Failed,
	})

	return &Output{
		Due:     stats.Due,
		Sent:    stats.Sent,
		Skipped: stats.Skipped,
		Failed:  stats.Failed,
		RanAt:   h.now().UTC().Format(time.RFC3339),
	}, nil
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
