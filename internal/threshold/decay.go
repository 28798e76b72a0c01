package threshold

import "time"

// Effective returns base linearly decayed toward zero over window, measured
// from start. A zero window disables decay.
func Effective(base float64, window time.Duration, start, now time.Time) float64 {
	if window <= 0 {
		return base
	}
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return base
	}
	frac := float64(elapsed) / float64(window)
	if frac >= 1 {
		return 0
	}
	v := base * (1 - frac)
	if v < 0 {
		return 0
	}
	return v
}

// HoursToWindow converts a fractional hour count to a decay window.
func HoursToWindow(hours float64) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}
