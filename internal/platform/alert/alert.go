// Package alert pages operators about conditions the service cannot
// recover from on its own, such as rejected upstream credentials.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cargolink/internal/platform/kafka/producer"
)

// TopicOpsAlerts carries operator alerts.
const TopicOpsAlerts = "ops.alerts"

// Severity ranks an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification. Details must never hold secrets.
type Alert struct {
	Severity Severity          `json:"severity"`
	Source   string            `json:"source"`
	Summary  string            `json:"summary"`
	Details  map[string]string `json:"details,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log at error level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	attrs := []any{
		"alert", true,
		"severity", a.Severity,
		"source", a.Source,
		"at", a.At,
	}
	for k, v := range a.Details {
		attrs = append(attrs, k, v)
	}
	n.logger.ErrorContext(ctx, a.Summary, attrs...)
	return nil
}

// KafkaNotifier publishes alerts to TopicOpsAlerts keyed by source.
type KafkaNotifier struct {
	producer producer.Publisher
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(p producer.Publisher) *KafkaNotifier {
	return &KafkaNotifier{producer: p}
}

func (n *KafkaNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.producer.Produce(ctx, &producer.Message{
		Topic:   TopicOpsAlerts,
		Key:     []byte(a.Source),
		Value:   payload,
		Headers: map[string]string{"severity": string(a.Severity)},
	})
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
