package safe

import "math"

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Percent returns part/total*100, or 0 when total is zero.
func Percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
