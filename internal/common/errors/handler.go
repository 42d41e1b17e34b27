// internal/common/errors/handler.go
package errors

import (
	"time"
)

// ErrorHandler normalizes arbitrary errors into StandardErrors and logs them
// with their category, so every adapter reports failures the same way.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err and returns its normalized form. Retryable upstream failures
// are logged at warn level; everything else at error level.
func (h *ErrorHandler) Handle(err error, fields map[string]interface{}) *StandardError {
	if err == nil {
		return nil
	}
	stdErr := h.normalizeError(err)
	h.logError(stdErr, fields)
	return stdErr
}

func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	code := Classify(err)
	return &StandardError{
		Code:      code,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: GetRetryCount(code) > 0,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func (h *ErrorHandler) logError(stdErr *StandardError, extra map[string]interface{}) {
	if h.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	if stdErr.Retryable {
		h.logger.Warn("upstream call failed", fields)
		return
	}
	h.logger.Error("request failed", fields)
}
