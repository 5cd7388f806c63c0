// Package errors provides the standardized error model shared by the follow-up
// service, its HTTP API and its workflow workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Follow-up lifecycle errors.
const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeDispatchFailed    ErrorCode = "DISPATCH_FAILED"
	ErrCodeStaleWrite        ErrorCode = "STALE_WRITE"
)

// Infrastructure errors.
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeCacheFailed              ErrorCode = "CACHE_FAILED"
	ErrCodeDetectorFailed           ErrorCode = "DETECTOR_FAILED"
	ErrCodeDetectorTimeout          ErrorCode = "DETECTOR_TIMEOUT"
	ErrCodeInputParsingFailed       ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError creates a non-retryable validation error. It is raised
// before any mutation is applied.
func NewValidationError(field, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Validation failed",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable state machine rejection.
func NewInvalidTransitionError(from, event string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Invalid status transition",
		Details:   fmt.Sprintf("cannot %s a follow-up in status %s", event, from),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "event": event},
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable not found error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Metadata:  map[string]interface{}{"id": id},
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchFailedError creates a retryable notification delivery error.
func NewDispatchFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchFailed,
		Message:   "Notification dispatch failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"channel": channel},
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleWriteError creates an optimistic concurrency conflict error. Callers
// reload and retry; nothing is merged automatically.
func NewStaleWriteError(id string, version int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleWrite,
		Message:   "Record was modified concurrently",
		Details:   fmt.Sprintf("id: %s, expected version: %d", id, version),
		Retryable: false,
		Metadata:  map[string]interface{}{"id": id, "version": version},
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheFailedError creates a retryable cache error.
func NewCacheFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheFailed,
		Message:   "Cache operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDetectorFailedError creates a retryable follow-up detector error.
func NewDetectorFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDetectorFailed,
		Message:   "Follow-up detection failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDetectorTimeoutError creates a retryable follow-up detector timeout error.
func NewDetectorTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeDetectorTimeout,
		Message:   "Follow-up detector timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInputParsingFailedError creates a non-retryable input parsing error.
func NewInputParsingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputParsingFailed,
		Message:   "Failed to parse input",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeDispatchFailed,
		ErrCodeDetectorFailed,
		ErrCodeCacheFailed:
		return 3

	case ErrCodeDetectorTimeout:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err into a *StandardError when one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSING"):
		return "VALIDATION"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "STALE") || strings.Contains(codeStr, "NOT_FOUND"):
		return "LIFECYCLE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "CACHE"):
		return "DATABASE"
	case strings.Contains(codeStr, "DISPATCH"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "DETECTOR"):
		return "AI"
	default:
		return "OTHER"
	}
}
