package metric

import (
	"context"
	"math"
	"time"

	"github.com/t77yq/alertd/internal/model"
)

// EventSource is the aggregate view of recorded work events the built-in
// metrics are computed from.
type EventSource interface {
	AverageDuration(ctx context.Context, from, to time.Time, entityID string) (float64, bool, error)
	CountOutcomes(ctx context.Context, from, to time.Time, entityID string) (total, failed int64, err error)
	CountInFlight(ctx context.Context, entityID string) (int64, error)
}

// RegisterEventMetrics registers execution_time, failure_rate and queue_size backed by src
func RegisterEventMetrics(e *Evaluator, src EventSource) {
	e.Register(model.MetricExecutionTime, ExecutionTime(src))
	e.Register(model.MetricFailureRate, FailureRate(src))
	e.Register(model.MetricQueueSize, QueueSize(src))
}

// ExecutionTime averages the duration of completed events in the window.
// An empty window measures 0.
func ExecutionTime(src EventSource) Provider {
	return ProviderFunc(func(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error) {
		avg, ok, err := src.AverageDuration(ctx, windowStart(req, now), now, req.EntityID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		return avg, nil
	})
}

// FailureRate is the percentage of events in the window that failed, rounded
// to two decimals. An empty window measures 0.
func FailureRate(src EventSource) Provider {
	return ProviderFunc(func(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error) {
		total, failed, err := src.CountOutcomes(ctx, windowStart(req, now), now, req.EntityID)
		if err != nil {
			return 0, err
		}
		if total == 0 {
			return 0, nil
		}
		return round2(100 * float64(failed) / float64(total)), nil
	})
}

// QueueSize counts pending and running events. The window is ignored.
func QueueSize(src EventSource) Provider {
	return ProviderFunc(func(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error) {
		count, err := src.CountInFlight(ctx, req.EntityID)
		if err != nil {
			return 0, err
		}
		return float64(count), nil
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
