// internal/models/status.go
package models

import (
	apperrors "compras-aggregator/internal/common/errors"
)

// Status is the per-source and overall outcome taxonomy.
type Status string

const (
	StatusSuccess            Status = "SUCCESS"
	StatusPartial            Status = "PARTIAL"
	StatusServiceUnavailable Status = "SERVICE_UNAVAILABLE"
	StatusRateLimited        Status = "RATE_LIMITED"
	StatusTimeout            Status = "TIMEOUT"
)

// IsFailure reports whether the status means the source produced no usable data.
func (s Status) IsFailure() bool {
	switch s {
	case StatusServiceUnavailable, StatusRateLimited, StatusTimeout:
		return true
	default:
		return false
	}
}

// SourceStatus is produced once per adapter call.
type SourceStatus struct {
	Source      SourceID `json:"source"`
	Status      Status   `json:"status"`
	Error       string   `json:"error,omitempty"`
	LatencyMs   int64    `json:"latencyMs"`
	ResultCount int      `json:"resultCount"`
	Cached      bool     `json:"cached,omitempty"`
}

// StatusFor maps an error to the status taxonomy. Validation and not-found
// errors are not outages; they map to PARTIAL.
func StatusFor(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	switch apperrors.Classify(err) {
	case apperrors.ErrCodeTimeout:
		return StatusTimeout
	case apperrors.ErrCodeRateLimited:
		return StatusRateLimited
	case apperrors.ErrCodeValidation, apperrors.ErrCodeNotFound:
		return StatusPartial
	default:
		return StatusServiceUnavailable
	}
}

// FailedStatus builds the SourceStatus for a failed call.
func FailedStatus(source SourceID, err error, latencyMs int64) SourceStatus {
	st := SourceStatus{Source: source, Status: StatusFor(err), LatencyMs: latencyMs}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
