package storage

import "errors"

var (
	// ErrRuleNotFound is returned when a rule id does not exist
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrTriggerNotFound is returned when a trigger id does not exist
	ErrTriggerNotFound = errors.New("alert trigger not found")
)
