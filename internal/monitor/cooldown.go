package monitor

import (
	"time"

	"github.com/t77yq/alertd/internal/model"
)

// CooldownGuard decides whether a rule is still inside its cooldown window
type CooldownGuard struct {
	// Floor is the minimum cooldown applied to every rule
	Floor time.Duration
}

// Cooldown returns the effective cooldown of rule
func (g CooldownGuard) Cooldown(rule *model.AlertRule) time.Duration {
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if cooldown < g.Floor {
		return g.Floor
	}
	return cooldown
}

// InCooldown reports whether rule last fired less than its cooldown before now.
// A rule that never fired, or has a zero cooldown, is never in cooldown.
func (g CooldownGuard) InCooldown(rule *model.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	cooldown := g.Cooldown(rule)
	if cooldown <= 0 {
		return false
	}
	return now.Before(rule.LastTriggeredAt.Add(cooldown))
}
