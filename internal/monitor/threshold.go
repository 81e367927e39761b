package monitor

import (
	"math"

	"github.com/t77yq/alertd/internal/model"
)

// EqualsEpsilon is the tolerance of the equals comparison
const EqualsEpsilon = 0.01

// Exceeded reports whether value crosses threshold under thresholdType. An
// unknown threshold type never fires.
func Exceeded(value float64, thresholdType model.ThresholdType, threshold float64) bool {
	switch thresholdType {
	case model.ThresholdAbove:
		return value > threshold
	case model.ThresholdBelow:
		return value < threshold
	case model.ThresholdEquals:
		return math.Abs(value-threshold) < EqualsEpsilon
	default:
		return false
	}
}
