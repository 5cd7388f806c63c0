package api

import (
	"net/http"

	"followup-engine/internal/common/errors"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code     errors.ErrorCode       `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// statusFor maps an error code to its HTTP status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidationFailed, errors.ErrCodeInputParsingFailed:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidTransition, errors.ErrCodeStaleWrite:
		return http.StatusConflict
	case errors.ErrCodeDispatchFailed, errors.ErrCodeDetectorFailed:
		return http.StatusBadGateway
	case errors.ErrCodeDetectorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": {...}}. Internal errors hide their
// details.
func (s *Server) writeError(c *gin.Context, err error) {
	stdErr, ok := errors.AsStandardError(err)
	if !ok {
		stdErr = &errors.StandardError{Code: errors.ErrCodeInternal, Message: "Internal error", Details: err.Error()}
	}

	status := statusFor(stdErr.Code)
	body := errorBody{Code: stdErr.Code, Message: stdErr.Message, Details: stdErr.Details}
	if status == http.StatusBadRequest {
		body.Metadata = stdErr.Metadata
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"route": c.FullPath(),
			"code":  stdErr.Code,
			"error": err,
		})
		if status == http.StatusInternalServerError {
			body.Details = ""
		}
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
