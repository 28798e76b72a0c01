package counters

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// DefaultInstanceLabel is the label that selects a counter instance.
const DefaultInstanceLabel = "instance"

// Prometheus reads counters from a metrics gatherer. Category and counter
// map to the family `<category>_<counter>` after sanitizing; the instance is
// matched against InstanceLabel, and `_Total` sums every series.
type Prometheus struct {
	gatherer      prometheus.Gatherer
	instanceLabel string
}

// NewPrometheus creates a gatherer-backed source. An empty label uses
// DefaultInstanceLabel.
func NewPrometheus(g prometheus.Gatherer, instanceLabel string) *Prometheus {
	if instanceLabel == "" {
		instanceLabel = DefaultInstanceLabel
	}
	return &Prometheus{gatherer: g, instanceLabel: instanceLabel}
}

// FamilyName returns the metric family read for id.
func FamilyName(id ID) string {
	return sanitize(id.Category) + "_" + sanitize(id.Counter)
}

func sanitize(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r == '%' {
			r = 'p'
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func (p *Prometheus) Exists(ctx context.Context, id ID) (bool, error) {
	_, ok, err := p.lookup(id)
	return ok, err
}

func (p *Prometheus) Value(ctx context.Context, id ID) (float64, error) {
	v, ok, err := p.lookup(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrInstanceNotFound)
	}
	return v, nil
}

func (p *Prometheus) lookup(id ID) (float64, bool, error) {
	families, err := p.gatherer.Gather()
	if err != nil {
		return 0, false, fmt.Errorf("gather %s: %w", id, err)
	}
	name := FamilyName(id)
	total := id.Instance == "" || id.Instance == TotalInstance
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		found := false
		for _, m := range mf.GetMetric() {
			inst := labelValue(m, p.instanceLabel)
			if !total && !strings.EqualFold(inst, id.Instance) {
				continue
			}
			v, ok := sampleValue(m)
			if !ok {
				continue
			}
			if !total {
				return v, true, nil
			}
			sum += v
			found = true
		}
		return sum, found, nil
	}
	return 0, false, nil
}

func labelValue(m *dto.Metric, label string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}

func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue(), true
	}
	return 0, false
}
