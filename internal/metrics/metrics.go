package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertd_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	// Evaluation metrics
	EvaluationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_evaluation_runs_total",
			Help: "Total number of evaluation runs",
		},
		[]string{"result"}, // result: success, failed
	)

	EvaluationRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertd_evaluation_run_duration_seconds",
			Help:    "Duration of evaluation runs in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_rule_evaluations_total",
			Help: "Total number of rule evaluations by outcome",
		},
		[]string{"outcome"}, // outcome: triggered, skipped, not_exceeded, error, config_error, suppressed
	)

	RuleMetricValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alertd_rule_metric_value",
			Help: "Last metric value computed for a rule",
		},
		[]string{"rule_id", "metric_kind"},
	)

	// Trigger metrics
	TriggersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_triggers_created_total",
			Help: "Total number of alert triggers created",
		},
		[]string{"severity"},
	)

	TriggerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_trigger_transitions_total",
			Help: "Total number of trigger lifecycle transitions",
		},
		[]string{"state"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_notifications_total",
			Help: "Total number of notification attempts",
		},
		[]string{"channel", "result"}, // result: success, failed
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alertd_notification_duration_seconds",
			Help:    "Channel send latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertd_panics_recovered_total",
			Help: "Total number of recovered panics",
		},
		[]string{"component"},
	)
)
