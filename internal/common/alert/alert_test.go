package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"compras-aggregator/internal/common/config"
)

// TestLogger captures log calls.
type TestLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *TestLogger) Warn(msg string, _ map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *TestLogger) Error(msg string, _ map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishText(ctx context.Context, topicARN, subject, message string) error {
	args := m.Called(ctx, topicARN, subject, message)
	return args.Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendText(ctx context.Context, from string, to []string, subject, body string) error {
	args := m.Called(ctx, from, to, subject, body)
	return args.Error(0)
}

var sample = Alert{
	Title:    "Cache degraded",
	Message:  "Redis unreachable; serving from memory",
	Severity: "critical",
	Fields:   map[string]interface{}{"source": "PNCP", "error": "dial tcp: refused"},
	At:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
}

func TestLogAlerter(t *testing.T) {
	log := &TestLogger{}
	require.NoError(t, NewLogAlerter(log).Send(context.Background(), sample))
	assert.Equal(t, []string{"operational alert"}, log.errors)
}

func TestSNSAlerter(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishText", mock.Anything, "arn:aws:sns:sa-east-1:1:ops", "[CRITICAL] Cache degraded", mock.AnythingOfType("string")).
		Return(nil).Once()

	log := &TestLogger{}
	err := NewSNSAlerter(pub, "arn:aws:sns:sa-east-1:1:ops", log).Send(context.Background(), sample)
	require.NoError(t, err)
	pub.AssertExpectations(t)
	assert.Empty(t, log.errors)
}

func TestSNSAlerter_FailureFallsBackToLog(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("throttled"))

	log := &TestLogger{}
	err := NewSNSAlerter(pub, "arn", log).Send(context.Background(), sample)
	assert.Error(t, err)
	assert.Len(t, log.errors, 1)
}

func TestSESAlerter(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendText", mock.Anything, "ops@example.gov.br", []string{"oncall@example.gov.br"},
		"[CRITICAL] Cache degraded", mock.AnythingOfType("string")).Return(nil).Once()

	err := NewSESAlerter(sender, "ops@example.gov.br", []string{"oncall@example.gov.br"}, &TestLogger{}).
		Send(context.Background(), sample)
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestFormat_SortsFields(t *testing.T) {
	out := Format(sample)
	assert.Contains(t, out, "Redis unreachable")
	assert.Contains(t, out, "at: 2024-06-01T12:00:00Z")
	assert.Less(t, strings.Index(out, "error:"), strings.Index(out, "source:"))
}

func TestNew_LogChannel(t *testing.T) {
	a, err := New(context.Background(), config.AlertConfig{Channel: "log"}, &TestLogger{})
	require.NoError(t, err)
	assert.IsType(t, &LogAlerter{}, a)

	_, err = New(context.Background(), config.AlertConfig{Channel: "pager"}, &TestLogger{})
	assert.Error(t, err)
}
