package metric

import "errors"

var (
	// ErrNotConfigured is returned for a known metric kind with no provider registered
	ErrNotConfigured = errors.New("metric kind not configured")

	// ErrUnknownKind is returned for a metric kind the engine does not know
	ErrUnknownKind = errors.New("unknown metric kind")

	// ErrInvalidQuery is returned when a rule's entity or query cannot be interpreted by a provider
	ErrInvalidQuery = errors.New("invalid metric query")
)

// IsConfigError reports whether err stems from rule or engine configuration
// rather than from the metric source.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrInvalidQuery)
}
