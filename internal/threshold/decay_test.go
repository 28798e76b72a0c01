package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEffectiveWithoutDecayReturnsBase(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 100.0, Effective(100, 0, start, start.Add(48*time.Hour)))
}

func TestEffectiveIsMonotonicAndReachesZero(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	window := 2 * time.Hour

	prev := Effective(100, window, start, start)
	require.Equal(t, 100.0, prev)
	for m := 1; m <= 150; m++ {
		cur := Effective(100, window, start, start.Add(time.Duration(m)*time.Minute))
		require.LessOrEqual(t, cur, prev, "minute %d", m)
		require.GreaterOrEqual(t, cur, 0.0)
		prev = cur
	}

	require.InDelta(t, 50.0, Effective(100, window, start, start.Add(time.Hour)), 1e-9)
	require.Equal(t, 0.0, Effective(100, window, start, start.Add(window)))
	require.Equal(t, 0.0, Effective(100, window, start, start.Add(3*window)))
}

func TestEffectiveBeforeStartIsBase(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 10.0, Effective(10, time.Hour, start, start.Add(-time.Minute)))
}

func TestHoursToWindow(t *testing.T) {
	require.Equal(t, 90*time.Minute, HoursToWindow(1.5))
	require.Equal(t, time.Duration(0), HoursToWindow(-1))
}
