// Package alert delivers operational alerts (degraded cache, etc.) to the
// configured channel: the structured log, an SNS topic or SES email.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"compras-aggregator/internal/common/aws"
	"compras-aggregator/internal/common/config"
)

// Alert is one operational notification.
type Alert struct {
	Title    string
	Message  string
	Severity string
	Fields   map[string]interface{}
	At       time.Time
}

// Alerter sends alerts. Implementations must be safe for concurrent use.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// SNSPublisher is satisfied by *aws.SNSClient.
type SNSPublisher interface {
	PublishText(ctx context.Context, topicARN, subject, message string) error
}

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	SendText(ctx context.Context, from string, to []string, subject, body string) error
}

// New builds the Alerter selected by cfg.Channel.
func New(ctx context.Context, cfg config.AlertConfig, logger Logger) (Alerter, error) {
	switch cfg.Channel {
	case "", "log":
		return NewLogAlerter(logger), nil
	case "sns":
		client, err := aws.NewSNSClient(ctx, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS client: %w", err)
		}
		return NewSNSAlerter(client, cfg.SNS.TopicARN, logger), nil
	case "ses":
		client, err := aws.NewSESClient(ctx, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES client: %w", err)
		}
		return NewSESAlerter(client, cfg.SES.FromEmail, cfg.SES.To, logger), nil
	default:
		return nil, fmt.Errorf("unknown alert channel %q", cfg.Channel)
	}
}

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct {
	logger Logger
}

func NewLogAlerter(logger Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (l *LogAlerter) Send(_ context.Context, a Alert) error {
	if l.logger == nil {
		return nil
	}
	fields := map[string]interface{}{
		"alert":    a.Title,
		"severity": a.Severity,
		"detail":   a.Message,
	}
	for k, v := range a.Fields {
		fields[k] = v
	}
	l.logger.Error("operational alert", fields)
	return nil
}

// SNSAlerter publishes alerts to an SNS topic. Delivery failures are also
// logged so the alert is never lost silently.
type SNSAlerter struct {
	publisher SNSPublisher
	topicARN  string
	fallback  *LogAlerter
}

func NewSNSAlerter(publisher SNSPublisher, topicARN string, logger Logger) *SNSAlerter {
	return &SNSAlerter{publisher: publisher, topicARN: topicARN, fallback: NewLogAlerter(logger)}
}

func (s *SNSAlerter) Send(ctx context.Context, a Alert) error {
	if err := s.publisher.PublishText(ctx, s.topicARN, subject(a), Format(a)); err != nil {
		_ = s.fallback.Send(ctx, a)
		return fmt.Errorf("sns publish failed: %w", err)
	}
	return nil
}

// SESAlerter emails alerts.
type SESAlerter struct {
	sender   EmailSender
	from     string
	to       []string
	fallback *LogAlerter
}

func NewSESAlerter(sender EmailSender, from string, to []string, logger Logger) *SESAlerter {
	return &SESAlerter{sender: sender, from: from, to: to, fallback: NewLogAlerter(logger)}
}

func (s *SESAlerter) Send(ctx context.Context, a Alert) error {
	if err := s.sender.SendText(ctx, s.from, s.to, subject(a), Format(a)); err != nil {
		_ = s.fallback.Send(ctx, a)
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}

func subject(a Alert) string {
	sev := a.Severity
	if sev == "" {
		sev = "WARNING"
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(sev), a.Title)
}

// Format renders an alert as plain text with fields in key order.
func Format(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\n\nat: %s", a.At.UTC().Format(time.RFC3339))
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, a.Fields[k])
	}
	return b.String()
}
