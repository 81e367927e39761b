package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/alertd/internal/lock"
	"github.com/t77yq/alertd/internal/metric"
	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
)

// Options configures an EvaluationScheduler
type Options struct {
	Concurrency   int
	IOTimeout     time.Duration
	TriggerTTL    time.Duration
	CooldownFloor time.Duration
	LeaseTTL      time.Duration
}

// Dependencies are the collaborators of an EvaluationScheduler
type Dependencies struct {
	Rules      RuleRepository
	Triggers   TriggerStore
	Metrics    MetricEvaluator
	Dispatcher Dispatcher
	Locker     lock.Locker
	Publisher  EventPublisher
}

type outcome int

const (
	outcomeNotExceeded outcome = iota
	outcomeTriggered
	outcomeSkipped
	outcomeSuppressed
	outcomeFailed
	outcomeConfigError
)

func (o outcome) String() string {
	switch o {
	case outcomeTriggered:
		return "triggered"
	case outcomeSkipped:
		return "skipped"
	case outcomeSuppressed:
		return "suppressed"
	case outcomeFailed:
		return "error"
	case outcomeConfigError:
		return "config_error"
	default:
		return "not_exceeded"
	}
}

// EvaluationScheduler evaluates active rules, fires triggers and dispatches
// their notifications
type EvaluationScheduler struct {
	logger   *zap.Logger
	deps     Dependencies
	opts     Options
	guard    monitor.CooldownGuard
	renderer *monitor.Renderer
	now      func() time.Time
}

// NewEvaluationScheduler creates a scheduler. A nil Locker defaults to an
// in-process locker and a nil Publisher discards events.
func NewEvaluationScheduler(logger *zap.Logger, deps Dependencies, opts Options) *EvaluationScheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.TriggerTTL <= 0 {
		opts.TriggerTTL = model.DefaultTriggerTTL
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Publisher == nil {
		deps.Publisher = monitor.NopPublisher{}
	}

	logger = logger.Named("evaluation_scheduler")
	return &EvaluationScheduler{
		logger:   logger,
		deps:     deps,
		opts:     opts,
		guard:    monitor.CooldownGuard{Floor: opts.CooldownFloor},
		renderer: monitor.NewRenderer(logger),
		now:      time.Now,
	}
}

// WithClock replaces the scheduler's time source
func (s *EvaluationScheduler) WithClock(now func() time.Time) *EvaluationScheduler {
	s.now = now
	return s
}

// RunOnce evaluates every active rule once. Failures of individual rules are
// counted and logged; only a failure to load the rules, or a panic outside a
// rule, marks the run unsuccessful. Rules not started before ctx is done are
// left for the next run.
func (s *EvaluationScheduler) RunOnce(ctx context.Context) (summary *model.RunSummary) {
	start := time.Now()
	summary = &model.RunSummary{Success: true, Timestamp: s.now().UTC()}

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
			s.logger.Error("Evaluation run panicked", zap.Any("panic", r))
			summary.Success = false
			summary.Error = fmt.Sprintf("evaluation run panicked: %v", r)
		}

		result := "success"
		if !summary.Success {
			result = "failed"
		}
		metrics.EvaluationRunsTotal.WithLabelValues(result).Inc()
		metrics.EvaluationRunDuration.Observe(time.Since(start).Seconds())
	}()

	rules, err := s.loadRules(ctx)
	if err != nil {
		s.logger.Error("Failed to load active rules", zap.Error(err))
		summary.Success = false
		summary.Error = err.Error()
		return summary
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)

	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			result := s.evaluateRule(ctx, rule)
			metrics.RuleEvaluationsTotal.WithLabelValues(result.String()).Inc()

			mu.Lock()
			defer mu.Unlock()
			summary.RulesEvaluated++
			switch result {
			case outcomeTriggered:
				summary.Triggered++
			case outcomeSkipped, outcomeSuppressed:
				summary.Skipped++
			case outcomeFailed:
				summary.Errors++
			case outcomeConfigError:
				summary.ConfigErrors++
			}
			return nil
		})
	}
	g.Wait()

	if remaining := len(rules) - summary.RulesEvaluated; remaining > 0 {
		s.logger.Warn("Run budget exhausted, remaining rules deferred to the next run",
			zap.Int("deferred", remaining),
			zap.Error(ctx.Err()))
	}

	s.logger.Info("Evaluation run completed",
		zap.Int("rules_evaluated", summary.RulesEvaluated),
		zap.Int("alerts_triggered", summary.Triggered),
		zap.Int("rules_skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int("config_errors", summary.ConfigErrors),
		zap.Duration("duration", time.Since(start)))
	return summary
}

func (s *EvaluationScheduler) loadRules(ctx context.Context) ([]*model.AlertRule, error) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	rules, err := s.deps.Rules.ListActiveRules(ioCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return rules, nil
}

// evaluateRule runs the evaluation of one rule behind a panic boundary
func (s *EvaluationScheduler) evaluateRule(ctx context.Context, rule *model.AlertRule) (result outcome) {
	logger := s.logger.With(zap.String("rule_id", rule.ID), zap.String("rule_name", rule.Name))

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("rule_evaluation").Inc()
			logger.Error("Rule evaluation panicked", zap.Any("panic", r))
			result = outcomeFailed
		}
	}()

	result, err := s.evaluate(ctx, rule, logger)
	switch {
	case err == nil:
	case result == outcomeConfigError:
		logger.Warn("Rule configuration error", zap.Error(err))
	default:
		logger.Error("Rule evaluation failed", zap.Error(err))
	}
	return result
}

func (s *EvaluationScheduler) evaluate(ctx context.Context, rule *model.AlertRule, logger *zap.Logger) (outcome, error) {
	if err := rule.Validate(); err != nil {
		return outcomeConfigError, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	now := s.now()
	if s.guard.InCooldown(rule, now) {
		logger.Debug("Rule in cooldown", zap.Timep("last_triggered_at", rule.LastTriggeredAt))
		return outcomeSkipped, nil
	}

	value, err := s.measure(ctx, rule)
	if err != nil {
		if metric.IsConfigError(err) {
			return outcomeConfigError, err
		}
		return outcomeFailed, err
	}
	metrics.RuleMetricValue.WithLabelValues(rule.ID, string(rule.MetricKind)).Set(value)

	if !monitor.Exceeded(value, rule.ThresholdType, rule.ThresholdValue) {
		return outcomeNotExceeded, nil
	}

	// The lease only saves duplicate work; Fire decides who triggers
	lease, ok, err := s.deps.Locker.Acquire(ctx, "rule:"+rule.ID, s.opts.LeaseTTL)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to acquire rule lease: %w", err)
	}
	if !ok {
		logger.Info("Rule is being evaluated elsewhere, skipping")
		return outcomeSuppressed, nil
	}
	defer s.release(lease, logger)

	// Another run may have fired the rule while the metric was computed
	current, err := s.reload(ctx, rule.ID)
	if err != nil {
		return outcomeFailed, err
	}
	if !current.IsActive || s.guard.InCooldown(current, now) {
		logger.Info("Rule fired or deactivated concurrently, skipping")
		return outcomeSuppressed, nil
	}

	trigger := s.buildTrigger(current, value, now)
	fired, err := s.fire(ctx, trigger, current)
	if err != nil {
		return outcomeFailed, err
	}
	if !fired {
		logger.Info("Rule already triggered within its cooldown, skipping")
		return outcomeSuppressed, nil
	}
	metrics.TriggersCreatedTotal.WithLabelValues(string(trigger.SeveritySnapshot)).Inc()

	logger.Info("Alert triggered",
		zap.String("trigger_id", trigger.ID),
		zap.Float64("value", value),
		zap.Float64("threshold", current.ThresholdValue),
		zap.String("severity", string(trigger.SeveritySnapshot)))

	s.publish(ctx, monitor.NewAlertEvent(monitor.EventTriggered, trigger, now), logger)

	delivery := s.deps.Dispatcher.Dispatch(ctx, trigger, current)
	s.recordDelivery(ctx, trigger, delivery, logger)
	return outcomeTriggered, nil
}

func (s *EvaluationScheduler) measure(ctx context.Context, rule *model.AlertRule) (float64, error) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	return s.deps.Metrics.Evaluate(ioCtx, model.MetricRequest{
		Kind:          rule.MetricKind,
		WindowMinutes: rule.Window(),
		EntityID:      rule.EntityID,
		Query:         rule.MetricQuery,
	})
}

func (s *EvaluationScheduler) reload(ctx context.Context, ruleID string) (*model.AlertRule, error) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	rule, err := s.deps.Rules.GetRule(ioCtx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload rule: %w", err)
	}
	return rule, nil
}

func (s *EvaluationScheduler) buildTrigger(rule *model.AlertRule, value float64, now time.Time) *model.AlertTrigger {
	title, message := s.renderer.Render(rule, value)
	severity := rule.Severity
	if severity == "" {
		severity = model.AlertSeverityWarning
	}

	return &model.AlertTrigger{
		ID:                     uuid.New().String(),
		RuleID:                 rule.ID,
		MetricValue:            value,
		ThresholdValueSnapshot: rule.ThresholdValue,
		SeveritySnapshot:       severity,
		TitleSnapshot:          title,
		MessageSnapshot:        message,
		State:                  model.TriggerStateActive,
		ChannelsNotified:       []model.Channel{},
		NotifiedUserIDs:        []string{},
		NotifiedEmails:         []string{},
		CreatedAt:              now.UTC(),
		ExpiresAt:              now.UTC().Add(s.opts.TriggerTTL),
	}
}

func (s *EvaluationScheduler) fire(ctx context.Context, trigger *model.AlertTrigger, rule *model.AlertRule) (bool, error) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	fired, err := s.deps.Triggers.Fire(ioCtx, trigger, s.guard.Cooldown(rule))
	if err != nil {
		return false, fmt.Errorf("failed to persist trigger: %w", err)
	}
	return fired, nil
}

func (s *EvaluationScheduler) recordDelivery(ctx context.Context, trigger *model.AlertTrigger, delivery *model.DeliverySummary, logger *zap.Logger) {
	trigger.ChannelsNotified = delivery.ChannelsNotified
	trigger.NotifiedUserIDs = delivery.NotifiedUserIDs
	trigger.NotifiedEmails = delivery.NotifiedEmails

	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	if err := s.deps.Triggers.RecordDelivery(ioCtx, trigger.ID, delivery); err != nil {
		logger.Error("Failed to record delivery audit",
			zap.String("trigger_id", trigger.ID),
			zap.Error(err))
	}
}

func (s *EvaluationScheduler) publish(ctx context.Context, event *monitor.AlertEvent, logger *zap.Logger) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()

	if err := s.deps.Publisher.Publish(ioCtx, event); err != nil {
		logger.Warn("Failed to publish alert event",
			zap.String("trigger_id", event.TriggerID),
			zap.Error(err))
	}
}

func (s *EvaluationScheduler) release(lease lock.Lease, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.ioTimeout())
	defer cancel()

	if err := lease.Release(ctx); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		logger.Warn("Failed to release rule lease", zap.Error(err))
	}
}

func (s *EvaluationScheduler) ioTimeout() time.Duration {
	if s.opts.IOTimeout > 0 {
		return s.opts.IOTimeout
	}
	return 10 * time.Second
}

func (s *EvaluationScheduler) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.ioTimeout())
}
