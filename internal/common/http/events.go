package http

import "time"

// EventType names a ResilientClient lifecycle event.
type EventType string

const (
	EventOpened      EventType = "opened"
	EventClosed      EventType = "closed"
	EventHalfOpen    EventType = "half_open"
	EventTimeout     EventType = "timeout"
	EventRejected    EventType = "rejected"
	EventRetry       EventType = "retry"
	EventRateLimited EventType = "rate_limited"
)

// Event is delivered synchronously to registered listeners. Listeners must not
// call back into the client.
type Event struct {
	Source  string
	Type    EventType
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// Listener receives client events.
type Listener func(Event)

// Logger is the subset of logger.Logger used by this package.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
