// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler handles job errors with standardized error handling
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError fails the job with retries for retryable errors and throws a
// BPMN error for everything else.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)

	h.logError(job, stdErr, bpmnErr)

	if bpmnErr.Retries > 0 && job.Retries > 0 {
		h.failJobWithRetries(ctx, client, job, bpmnErr)
	} else {
		h.throwBPMNError(ctx, client, job, bpmnErr)
	}
}

// Normalize ensures we always have a StandardError
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func (h *ErrorHandler) failJobWithRetries(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError) {
	// job.Retries is the remaining budget; never raise it.
	retries := bpmnErr.Retries
	if int(job.Retries)-1 < retries {
		retries = int(job.Retries) - 1
	}

	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(retries)).
		ErrorMessage(bpmnErr.Message)

	if varsJSON, err := json.Marshal(bpmnErr.ToErrorVariables()); err == nil {
		if cmdWithVars, err := cmd.VariablesFromString(string(varsJSON)); err == nil {
			_, _ = cmdWithVars.Send(ctx)
			return
		}
	}

	_, _ = cmd.Send(ctx)
}

func (h *ErrorHandler) throwBPMNError(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError) {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	if varsJSON, err := json.Marshal(bpmnErr.ToErrorVariables()); err == nil {
		if cmdWithVars, err := cmd.VariablesFromString(string(varsJSON)); err == nil {
			_, _ = cmdWithVars.Send(ctx)
			return
		}
	}

	_, _ = cmd.Send(ctx)
}

func (h *ErrorHandler) logError(job entities.Job, stdErr *StandardError, bpmnErr *BPMNError) {
	h.logger.Error("Job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        string(stdErr.Code),
		"message":          bpmnErr.Message,
		"details":          stdErr.Details,
		"retryable":        stdErr.Retryable,
		"retries":          bpmnErr.Retries,
		"errorCategory":    GetErrorCategory(stdErr.Code),
		"workflowInstance": job.ProcessInstanceKey,
	})
}
