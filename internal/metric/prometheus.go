package metric

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	alertmodel "github.com/t77yq/alertd/internal/model"
)

// PrometheusProvider evaluates a rule's metric query as an instant PromQL
// query. "$window" in the query expands to the evaluation window (e.g. "5m")
// and "$entity" to the rule's entity id.
type PrometheusProvider struct {
	logger *zap.Logger
	client v1.API
}

// NewPrometheusProvider creates a provider querying the Prometheus server at prometheusURL
func NewPrometheusProvider(logger *zap.Logger, prometheusURL string) (*PrometheusProvider, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &PrometheusProvider{
		logger: logger.Named("prometheus_metrics"),
		client: v1.NewAPI(client),
	}, nil
}

// Measure implements Provider. A query returning no series measures 0.
func (p *PrometheusProvider) Measure(ctx context.Context, req alertmodel.MetricRequest, now time.Time) (float64, error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, fmt.Errorf("%w: custom metric requires a query", ErrInvalidQuery)
	}

	query := strings.NewReplacer(
		"$window", strconv.Itoa(req.WindowMinutes)+"m",
		"$entity", req.EntityID,
	).Replace(req.Query)

	result, warnings, err := p.client.Query(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query Prometheus: %w", err)
	}
	for _, w := range warnings {
		p.logger.Warn("Prometheus warning", zap.String("query", query), zap.String("warning", w))
	}

	switch v := result.(type) {
	case model.Vector:
		if len(v) == 0 {
			p.logger.Debug("Prometheus query returned no series", zap.String("query", query))
			return 0, nil
		}
		if len(v) > 1 {
			p.logger.Warn("Prometheus query returned multiple series, using the first",
				zap.String("query", query),
				zap.Int("series", len(v)))
		}
		return float64(v[0].Value), nil

	case *model.Scalar:
		return float64(v.Value), nil

	default:
		return 0, fmt.Errorf("%w: unexpected result type %T", ErrInvalidQuery, result)
	}
}
