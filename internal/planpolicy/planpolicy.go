// Package planpolicy is the pure plan -> limits mapping. It has no
// dependency on the store, the engine, or the clock: given a plan
// and an optional pair of interval overrides, it always returns the same
// Limits.
package planpolicy

import "github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"

// Limits is the effective set of quota numbers for a plan.
type Limits struct {
	WindowLimit   int
	DailyLimit    int
	AvgIntervalMs int64
}

const (
	proWindowLimit  = 35
	proDailyLimit   = 100_000
	proIntervalMs   = 860
	ultraWindowLim  = 170
	ultraDailyLimit = 500_000
	ultraIntervalMs = 170
)

// Overrides carries the per-plan avgIntervalMs overrides from configuration
// (MAILTESTER_PRO_INTERVAL_MS / MAILTESTER_ULTIMATE_INTERVAL_MS). Zero means
// "use the plan default".
type Overrides struct {
	ProIntervalMs      int64
	UltimateIntervalMs int64
}

// For returns the Limits for a normalized plan. Callers should pass the
// result of domain.NormalizePlan, but For normalizes defensively too.
func For(plan domain.Plan, ov Overrides) Limits {
	switch domain.NormalizePlan(string(plan)) {
	case domain.PlanPro:
		interval := int64(proIntervalMs)
		if ov.ProIntervalMs > 0 {
			interval = ov.ProIntervalMs
		}
		return Limits{WindowLimit: proWindowLimit, DailyLimit: proDailyLimit, AvgIntervalMs: interval}
	default: // PlanUltimate, and anything that normalized to it
		interval := int64(ultraIntervalMs)
		if ov.UltimateIntervalMs > 0 {
			interval = ov.UltimateIntervalMs
		}
		return Limits{WindowLimit: ultraWindowLim, DailyLimit: ultraDailyLimit, AvgIntervalMs: interval}
	}
}

// DefaultWaitHintMs is min(proIntervalMs, ultimateIntervalMs) with overrides
// applied — the hint surfaced to clients when no key is free.
func DefaultWaitHintMs(ov Overrides) int64 {
	pro := For(domain.PlanPro, ov).AvgIntervalMs
	ult := For(domain.PlanUltimate, ov).AvgIntervalMs
	if pro < ult {
		return pro
	}
	return ult
}
