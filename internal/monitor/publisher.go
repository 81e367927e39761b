package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/service"
)

const (
	// AlertStream holds alert lifecycle events
	AlertStream = "ALERTS"

	EventTriggered    = "triggered"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
)

// AlertEvent is published on every trigger lifecycle change
type AlertEvent struct {
	Type           string              `json:"type"`
	TriggerID      string              `json:"trigger_id"`
	RuleID         string              `json:"rule_id"`
	Severity       model.AlertSeverity `json:"severity"`
	State          model.TriggerState  `json:"state"`
	MetricValue    float64             `json:"metric_value"`
	ThresholdValue float64             `json:"threshold_value"`
	Title          string              `json:"title"`
	Message        string              `json:"message"`
	AcknowledgedBy string              `json:"acknowledged_by,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// NewAlertEvent builds the event describing trigger after a change of the given type
func NewAlertEvent(eventType string, trigger *model.AlertTrigger, at time.Time) *AlertEvent {
	return &AlertEvent{
		Type:           eventType,
		TriggerID:      trigger.ID,
		RuleID:         trigger.RuleID,
		Severity:       trigger.SeveritySnapshot,
		State:          trigger.State,
		MetricValue:    trigger.MetricValue,
		ThresholdValue: trigger.ThresholdValueSnapshot,
		Title:          trigger.TitleSnapshot,
		Message:        trigger.MessageSnapshot,
		AcknowledgedBy: trigger.AcknowledgedBy,
		OccurredAt:     at,
	}
}

// Publisher publishes alert lifecycle events to JetStream
type Publisher struct {
	logger   *zap.Logger
	messages *service.MessageService
}

// NewPublisher creates a publisher and makes sure the alert stream exists
func NewPublisher(logger *zap.Logger, messages *service.MessageService) (*Publisher, error) {
	if err := messages.EnsureStream(AlertStream, "alert.>"); err != nil {
		return nil, fmt.Errorf("failed to prepare alert stream: %w", err)
	}
	return &Publisher{
		logger:   logger.Named("publisher"),
		messages: messages,
	}, nil
}

// Publish sends event on alert.<type>
func (p *Publisher) Publish(ctx context.Context, event *AlertEvent) error {
	if err := p.messages.Publish(ctx, "alert."+event.Type, event); err != nil {
		return err
	}

	p.logger.Info("Alert event published",
		zap.String("type", event.Type),
		zap.String("trigger_id", event.TriggerID),
		zap.String("rule_id", event.RuleID),
		zap.String("severity", string(event.Severity)))
	return nil
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements the publisher contract and does nothing
func (NopPublisher) Publish(context.Context, *AlertEvent) error { return nil }
