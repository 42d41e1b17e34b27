// Package logger adapts zap to the map-field Logger used across the engine.
package logger

import (
	"sort"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the structured logging interface shared by the aggregation engine.
// Packages that only need a subset declare their own narrower interface.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// New builds a zap logger. format "json" selects the production encoder with
// ISO8601 timestamps, anything else the console encoder. Unknown levels fall
// back to info.
func New(level, format string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewForService returns the engine Logger and the underlying zap logger, both
// carrying a constant "service" field. The zap logger is returned so callers
// can Sync it on shutdown.
func NewForService(service, level, format string) (Logger, *zap.Logger) {
	zl := New(level, format).With(zap.String("service", service))
	return &fieldLogger{l: zl}, zl
}

// NewTestLogger routes output through testing.TB.
func NewTestLogger(t testing.TB) Logger {
	return &fieldLogger{l: zaptest.NewLogger(t)}
}

type fieldLogger struct {
	l *zap.Logger
}

func (f *fieldLogger) Debug(msg string, fields map[string]interface{}) {
	if ce := f.l.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (f *fieldLogger) Info(msg string, fields map[string]interface{}) {
	f.l.Info(msg, toZap(fields)...)
}

func (f *fieldLogger) Warn(msg string, fields map[string]interface{}) {
	f.l.Warn(msg, toZap(fields)...)
}

func (f *fieldLogger) Error(msg string, fields map[string]interface{}) {
	f.l.Error(msg, toZap(fields)...)
}

func (f *fieldLogger) With(fields map[string]interface{}) Logger {
	return &fieldLogger{l: f.l.With(toZap(fields)...)}
}

// toZap converts fields in key order so repeated log lines read the same.
func toZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case string:
			out = append(out, zap.String(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
