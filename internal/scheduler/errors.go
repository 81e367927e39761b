package scheduler

import "errors"

var (
	// ErrInvalidRule is returned when a rule fails validation before evaluation
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRulesUnavailable is returned when the active rule set cannot be loaded
	ErrRulesUnavailable = errors.New("active rules unavailable")

	// ErrInvalidSchedule is returned for an unparsable cron expression
	ErrInvalidSchedule = errors.New("invalid cron expression")
)
