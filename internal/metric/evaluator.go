package metric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// Provider computes the value of one metric kind over the req.WindowMinutes
// ending at now. Instantaneous metrics ignore the window.
type Provider interface {
	Measure(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error)

// Measure calls f
func (f ProviderFunc) Measure(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error) {
	return f(ctx, req, now)
}

// Evaluator dispatches metric requests to the provider registered for their kind
type Evaluator struct {
	logger    *zap.Logger
	now       func() time.Time
	mu        sync.RWMutex
	providers map[model.MetricKind]Provider
}

// NewEvaluator creates an evaluator with no providers registered
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{
		logger:    logger.Named("metric_evaluator"),
		now:       time.Now,
		providers: make(map[model.MetricKind]Provider),
	}
}

// WithClock replaces the evaluator's time source
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Register sets the provider for kind, replacing any previous one
func (e *Evaluator) Register(kind model.MetricKind, p Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[kind] = p
}

// Evaluate computes the metric described by req. Source failures are returned
// as errors and never reported as a zero reading.
func (e *Evaluator) Evaluate(ctx context.Context, req model.MetricRequest) (float64, error) {
	if !req.Kind.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}
	if req.WindowMinutes <= 0 {
		req.WindowMinutes = model.DefaultEvaluationWindowMinutes
	}

	e.mu.RLock()
	p, ok := e.providers[req.Kind]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotConfigured, req.Kind)
	}

	value, err := p.Measure(ctx, req, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %s: %w", req.Kind, err)
	}

	e.logger.Debug("Metric evaluated",
		zap.String("kind", string(req.Kind)),
		zap.String("entity_id", req.EntityID),
		zap.Int("window_minutes", req.WindowMinutes),
		zap.Float64("value", value))
	return value, nil
}

func windowStart(req model.MetricRequest, now time.Time) time.Time {
	return now.Add(-time.Duration(req.WindowMinutes) * time.Minute)
}
