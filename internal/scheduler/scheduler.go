package scheduler

import (
	"context"
	"time"

	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
)

// Runner runs one evaluation pass over every active rule
type Runner interface {
	RunOnce(ctx context.Context) *model.RunSummary
}

// RuleRepository is the rule storage the scheduler reads
type RuleRepository interface {
	ListActiveRules(ctx context.Context) ([]*model.AlertRule, error)
	GetRule(ctx context.Context, id string) (*model.AlertRule, error)
}

// TriggerStore persists the triggers the scheduler fires
type TriggerStore interface {
	// Fire advances the rule's trigger bookkeeping and stores trigger
	// atomically, unless another trigger was recorded within cooldown before
	// trigger.CreatedAt or the rule is no longer active. It reports whether
	// the trigger was stored.
	Fire(ctx context.Context, trigger *model.AlertTrigger, cooldown time.Duration) (bool, error)
	RecordDelivery(ctx context.Context, triggerID string, summary *model.DeliverySummary) error
}

// MetricEvaluator computes rule metrics
type MetricEvaluator interface {
	Evaluate(ctx context.Context, req model.MetricRequest) (float64, error)
}

// Dispatcher notifies a trigger's recipients
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger *model.AlertTrigger, rule *model.AlertRule) *model.DeliverySummary
}

// EventPublisher announces trigger lifecycle changes
type EventPublisher interface {
	Publish(ctx context.Context, event *monitor.AlertEvent) error
}
