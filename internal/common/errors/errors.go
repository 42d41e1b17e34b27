// Package errors provides the standardized error taxonomy shared by the upstream
// client, the source adapters and the orchestrator.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeValidation         ErrorCode = "VALIDATION"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"

	ErrCodeUpstreamRejected ErrorCode = "UPSTREAM_REJECTED"
	ErrCodeAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// WithMetadata sets a metadata key and returns the same error for chaining.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewTimeoutError reports a request that exceeded its time bound.
func NewTimeoutError(source string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Source '%s' timeout", source), err, true).
		WithMetadata("source", source)
}

// NewRateLimitedError covers both the local limiter and upstream 429 responses.
func NewRateLimitedError(source string, err error) *StandardError {
	return newError(ErrCodeRateLimited, fmt.Sprintf("Source '%s' rate limited", source), err, true).
		WithMetadata("source", source)
}

// NewServiceUnavailableError covers open circuits, exhausted 5xx retries and unreachable hosts.
func NewServiceUnavailableError(source string, err error) *StandardError {
	return newError(ErrCodeServiceUnavailable, fmt.Sprintf("Source '%s' unavailable", source), err, true).
		WithMetadata("source", source)
}

// NewCircuitOpenError is the fail-fast error returned without a network attempt.
func NewCircuitOpenError(source string) *StandardError {
	return NewServiceUnavailableError(source, stderrors.New("circuit breaker is open")).
		WithMetadata("circuitOpen", true)
}

// NewValidationError flags a malformed upstream payload.
func NewValidationError(source, details string) *StandardError {
	e := newError(ErrCodeValidation, fmt.Sprintf("Invalid payload from '%s'", source), nil, false)
	e.Details = details
	return e.WithMetadata("source", source)
}

// NewBadRequestError flags an invalid request to the REST surface.
func NewBadRequestError(details string) *StandardError {
	e := newError(ErrCodeValidation, "Invalid request", nil, false)
	e.Details = details
	return e
}

// NewNotFoundError is used by single-item lookups.
func NewNotFoundError(source, id string) *StandardError {
	e := newError(ErrCodeNotFound, fmt.Sprintf("Resource not found in %s", source), nil, false)
	e.Details = fmt.Sprintf("id: %s", id)
	return e.WithMetadata("source", source)
}

// NewUpstreamRejectedError covers non-retryable 4xx responses.
func NewUpstreamRejectedError(source string, statusCode int) *StandardError {
	e := newError(ErrCodeUpstreamRejected, fmt.Sprintf("Source '%s' rejected the request", source), nil, false)
	e.Details = fmt.Sprintf("status: %d", statusCode)
	return e.WithMetadata("source", source).WithMetadata("statusCode", statusCode)
}

// NewAuthenticationError covers 401/403 upstream responses.
func NewAuthenticationError(source string, statusCode int) *StandardError {
	e := newError(ErrCodeAuthentication, "Authentication failed", nil, false)
	e.Details = fmt.Sprintf("source: %s, status: %d", source, statusCode)
	return e.WithMetadata("source", source).WithMetadata("statusCode", statusCode)
}

// NewConfigurationError is fatal and only raised at startup.
func NewConfigurationError(details string) *StandardError {
	e := newError(ErrCodeConfiguration, "Invalid configuration", nil, false)
	e.Details = details
	return e
}

// ==========================
// 3. Classification
// ==========================

// As unwraps err into a *StandardError.
func As(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or "" when err is not a StandardError.
func CodeOf(err error) ErrorCode {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// Classify maps any error to a code, first by type and then by message inspection.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if code := CodeOf(err); code != "" {
		return code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return ErrCodeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrCodeTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ErrCodeRateLimited
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return ErrCodeNotFound
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "validation"):
		return ErrCodeValidation
	default:
		return ErrCodeServiceUnavailable
	}
}

// IsRetryable reports whether err belongs to a retryable category.
func IsRetryable(err error) bool {
	if se, ok := As(err); ok {
		return se.Retryable
	}
	return GetRetryCount(Classify(err)) > 0
}

// ==========================
// 4. Utility Functions
// ==========================

// GetRetryCount returns the recommended caller-level retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeServiceUnavailable:
		return 3
	case ErrCodeTimeout, ErrCodeRateLimited:
		return 2
	default:
		return 0
	}
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimited, ErrCodeServiceUnavailable:
		return "UPSTREAM"
	case ErrCodeValidation:
		return "VALIDATION"
	case ErrCodeNotFound:
		return "LOOKUP"
	case ErrCodeUpstreamRejected, ErrCodeAuthentication:
		return "REQUEST"
	case ErrCodeConfiguration:
		return "CONFIGURATION"
	default:
		return "OTHER"
	}
}
