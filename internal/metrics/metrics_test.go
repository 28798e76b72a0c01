package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, reg *prometheus.Registry, family string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", family, labels)
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestTriggerMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).ForTrigger("gc-pause")
	l := map[string]string{"trigger": "gc-pause"}

	m.Event()
	m.Event()
	m.Dropped("process")
	m.Started(1)
	m.Pair(150, 0, 100)
	m.Orphan()
	m.Fired()

	require.Equal(t, 2.0, value(t, reg, "tracetrigger_events_total", l))
	require.Equal(t, 1.0, value(t, reg, "tracetrigger_events_dropped_total", map[string]string{"trigger": "gc-pause", "reason": "process"}))
	require.Equal(t, 1.0, value(t, reg, "tracetrigger_starts_total", l))
	require.Equal(t, 1.0, value(t, reg, "tracetrigger_orphan_stops_total", l))
	require.Equal(t, 1.0, value(t, reg, "tracetrigger_fired_total", l))
	require.Equal(t, 1.0, value(t, reg, "tracetrigger_pair_duration_msec", l))
	require.Equal(t, 100.0, value(t, reg, "tracetrigger_effective_threshold", l))
	require.Equal(t, 0.0, value(t, reg, "tracetrigger_open_starts", l))
}

func TestNilTriggerIsNoop(t *testing.T) {
	var r *Registry
	m := r.ForTrigger("x")
	require.Nil(t, m)
	m.Event()
	m.Dropped("x")
	m.Started(1)
	m.Pair(1, 1, 1)
	m.Sample(1, 1)
	m.Orphan()
	m.Fired()
}
