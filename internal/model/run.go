package model

import "time"

// MetricRequest is a single metric computation for one rule invocation
type MetricRequest struct {
	Kind          MetricKind
	WindowMinutes int
	EntityID      string
	Query         string
}

// RunSummary is the outcome of one evaluation run
type RunSummary struct {
	Success        bool      `json:"success"`
	RulesEvaluated int       `json:"rulesEvaluated"`
	Triggered      int       `json:"alertsTriggered"`
	Skipped        int       `json:"rulesSkipped"`
	Errors         int       `json:"errors"`
	ConfigErrors   int       `json:"configErrors"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
