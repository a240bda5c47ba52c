package validation

import "github.com/signalnine/ratchet/internal/result"

// KeyTrapHitRate is an optional metric some harnesses report.
const KeyTrapHitRate = "trap_hit_rate"

// ShouldForceRewrite reports whether the live agent performs badly enough
// that the next cycle should rewrite it regardless of advice.
func ShouldForceRewrite(m result.Metrics) bool {
	avg := m.AvgReturn()
	if avg < -5 {
		return true
	}
	if m.SuccessRate() < 0.05 && avg < -2 {
		return true
	}
	if rate, ok := m[KeyTrapHitRate]; ok && rate > 0.8 {
		return true
	}
	return false
}
