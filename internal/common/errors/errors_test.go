package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedLog struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	entries []capturedLog
}

func (r *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	r.entries = append(r.entries, capturedLog{"warn", msg, fields})
}

func (r *recordingLogger) Error(msg string, fields map[string]interface{}) {
	r.entries = append(r.entries, capturedLog{"error", msg, fields})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{NewRateLimitedError("PNCP", nil), ErrCodeRateLimited},
		{fmt.Errorf("wrapped: %w", NewTimeoutError("SINAPI", nil)), ErrCodeTimeout},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{stderrors.New("HTTP 429 Too Many Requests"), ErrCodeRateLimited},
		{stderrors.New("record not found"), ErrCodeNotFound},
		{stderrors.New("json: cannot unmarshal string"), ErrCodeValidation},
		{stderrors.New("connection reset by peer"), ErrCodeServiceUnavailable},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), c.err.Error())
	}
	assert.Equal(t, ErrCodeTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ErrorCode(""), Classify(nil))
}

func TestStandardError_UnwrapAndMetadata(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := NewServiceUnavailableError("COMPRASGOV", cause).WithMetadata("attempts", 3)

	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable)
	assert.Equal(t, 3, err.Metadata["attempts"])
	assert.Contains(t, err.Error(), "SERVICE_UNAVAILABLE")

	se, ok := As(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Same(t, err, se)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTimeoutError("PNCP", nil)))
	assert.False(t, IsRetryable(NewValidationError("PNCP", "bad record")))
	assert.False(t, IsRetryable(NewBadRequestError("missing q")))
	assert.True(t, IsRetryable(stderrors.New("upstream exploded")))
}

func TestErrorHandler_LogsByRetryability(t *testing.T) {
	log := &recordingLogger{}
	h := NewErrorHandler(log)

	assert.Nil(t, h.Handle(nil, nil))

	se := h.Handle(NewRateLimitedError("PNCP", nil), map[string]interface{}{"source": "PNCP"})
	require.NotNil(t, se)
	se = h.Handle(stderrors.New("json: invalid character"), nil)
	require.NotNil(t, se)
	assert.Equal(t, ErrCodeValidation, se.Code)
	assert.Equal(t, "Unexpected error", se.Message)

	require.Len(t, log.entries, 2)
	assert.Equal(t, "warn", log.entries[0].level)
	assert.Equal(t, "PNCP", log.entries[0].fields["source"])
	assert.Equal(t, "UPSTREAM", log.entries[0].fields["errorCategory"])
	assert.Equal(t, "error", log.entries[1].level)
	assert.Equal(t, "VALIDATION", log.entries[1].fields["errorCategory"])
}
