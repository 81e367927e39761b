package model

import (
	"errors"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// MetricKind identifies which metric a rule watches
type MetricKind string

const (
	MetricExecutionTime MetricKind = "execution_time"
	MetricFailureRate   MetricKind = "failure_rate"
	MetricQueueSize     MetricKind = "queue_size"
	MetricResourceUsage MetricKind = "resource_usage"
	MetricCustom        MetricKind = "custom"
)

// Valid reports whether k is one of the known metric kinds
func (k MetricKind) Valid() bool {
	switch k {
	case MetricExecutionTime, MetricFailureRate, MetricQueueSize, MetricResourceUsage, MetricCustom:
		return true
	}
	return false
}

// ThresholdType is the comparison applied between a metric value and a rule threshold
type ThresholdType string

const (
	ThresholdAbove  ThresholdType = "above"
	ThresholdBelow  ThresholdType = "below"
	ThresholdEquals ThresholdType = "equals"
)

// Valid reports whether t is one of the known threshold types
func (t ThresholdType) Valid() bool {
	switch t {
	case ThresholdAbove, ThresholdBelow, ThresholdEquals:
		return true
	}
	return false
}

// DefaultEvaluationWindowMinutes is used when a rule carries a non-positive window
const DefaultEvaluationWindowMinutes = 5

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	MetricKind  MetricKind `json:"metric_kind"`
	EntityID    string     `json:"entity_id,omitempty"`
	MetricQuery string     `json:"metric_query,omitempty"`

	EvaluationWindowMinutes int           `json:"evaluation_window_minutes"`
	ThresholdType           ThresholdType `json:"threshold_type"`
	ThresholdValue          float64       `json:"threshold_value"`
	ThresholdUnit           string        `json:"threshold_unit,omitempty"`

	Channels         []Channel `json:"channels"`
	RecipientUserIDs []string  `json:"recipient_user_ids,omitempty"`
	RecipientEmails  []string  `json:"recipient_emails,omitempty"`
	RecipientRoles   []string  `json:"recipient_roles,omitempty"`

	TitleTemplate   string `json:"title_template,omitempty"`
	MessageTemplate string `json:"message_template,omitempty"`

	IsActive        bool          `json:"is_active"`
	Severity        AlertSeverity `json:"severity"`
	CooldownMinutes int           `json:"cooldown_minutes"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
	TriggerCount    int64         `json:"trigger_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LoadError is set when a stored field could not be decoded
	LoadError error `json:"-"`
}

// Window returns the evaluation window, falling back to the default for non-positive values
func (r *AlertRule) Window() int {
	if r.EvaluationWindowMinutes <= 0 {
		return DefaultEvaluationWindowMinutes
	}
	return r.EvaluationWindowMinutes
}

// Validate checks the fields the engine depends on
func (r *AlertRule) Validate() error {
	switch {
	case r.LoadError != nil:
		return r.LoadError
	case r.ID == "":
		return errors.New("rule id is empty")
	case !r.MetricKind.Valid():
		return errors.New("unknown metric kind: " + string(r.MetricKind))
	case !r.ThresholdType.Valid():
		return errors.New("unknown threshold type: " + string(r.ThresholdType))
	case r.CooldownMinutes < 0:
		return errors.New("cooldown minutes must not be negative")
	}
	return nil
}

// TriggerState is the lifecycle state of an alert trigger
type TriggerState string

const (
	TriggerStateActive       TriggerState = "active"
	TriggerStateAcknowledged TriggerState = "acknowledged"
	TriggerStateResolved     TriggerState = "resolved"
)

// DefaultTriggerTTL is how long a trigger stays in active views
const DefaultTriggerTTL = 24 * time.Hour

var (
	// ErrTriggerResolved is returned when a transition is attempted out of the resolved state
	ErrTriggerResolved = errors.New("trigger already resolved")

	// ErrAcknowledgerRequired is returned when acknowledging without naming who did it
	ErrAcknowledgerRequired = errors.New("acknowledged by is required")
)

// AlertTrigger represents one firing of a rule
type AlertTrigger struct {
	ID     string `json:"id"`
	RuleID string `json:"rule_id"`

	MetricValue            float64       `json:"metric_value"`
	ThresholdValueSnapshot float64       `json:"threshold_value"`
	SeveritySnapshot       AlertSeverity `json:"severity"`
	TitleSnapshot          string        `json:"title"`
	MessageSnapshot        string        `json:"message"`

	State TriggerState `json:"state"`

	ChannelsNotified []Channel `json:"channels_notified"`
	NotifiedUserIDs  []string  `json:"notified_user_ids"`
	NotifiedEmails   []string  `json:"notified_emails"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// Acknowledge moves an active trigger to acknowledged. It reports whether the
// trigger changed; acknowledging an acknowledged trigger is a no-op.
func (t *AlertTrigger) Acknowledge(by string, at time.Time) (bool, error) {
	if by == "" {
		return false, ErrAcknowledgerRequired
	}
	switch t.State {
	case TriggerStateActive:
		t.State = TriggerStateAcknowledged
		t.AcknowledgedBy = by
		t.AcknowledgedAt = &at
		return true, nil
	case TriggerStateAcknowledged:
		return false, nil
	default:
		return false, ErrTriggerResolved
	}
}

// Resolve moves an active or acknowledged trigger to the terminal resolved
// state. Resolving a resolved trigger is a no-op.
func (t *AlertTrigger) Resolve(at time.Time) bool {
	if t.State == TriggerStateResolved {
		return false
	}
	t.State = TriggerStateResolved
	t.ResolvedAt = &at
	return true
}

// Expired reports whether the trigger has passed its expiry at now
func (t *AlertTrigger) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsOpen reports whether the trigger belongs in active views at now
func (t *AlertTrigger) IsOpen(now time.Time) bool {
	return t.State != TriggerStateResolved && !t.Expired(now)
}

// TriggerFilter narrows ListActive queries
type TriggerFilter struct {
	RuleID   string
	Severity AlertSeverity
	Limit    int
}
