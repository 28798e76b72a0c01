package spec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tracetrigger/internal/counters"
	"tracetrigger/internal/threshold"
)

// DefaultMinSamples is how many consecutive samples a counter must hold a
// side of the threshold before the trigger acts on it.
const DefaultMinSamples = 3

// CounterSpec is the parsed form of `CATEGORY:COUNTER:INSTANCE[<>]NUMBER`.
type CounterSpec struct {
	Text        string
	ID          counters.ID
	GreaterThan bool
	Threshold   float64
	DecayToZero time.Duration
	MinSamples  int
}

// ParseCounter parses a counter trigger. Optional `;DecayToZeroHours=N` and
// `;MinSamples=N` suffixes are accepted.
func ParseCounter(text string) (*CounterSpec, error) {
	parts := strings.Split(text, ";")
	head := strings.TrimSpace(parts[0])

	opIdx := strings.LastIndexAny(head, "<>")
	if opIdx <= 0 {
		return nil, syntaxError(text, "expected CATEGORY:COUNTER:INSTANCE>NUMBER or <NUMBER")
	}
	name := strings.SplitN(head[:opIdx], ":", 3)
	if len(name) != 3 || strings.TrimSpace(name[0]) == "" || strings.TrimSpace(name[1]) == "" {
		return nil, syntaxError(text, "counter name must be CATEGORY:COUNTER:INSTANCE")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(head[opIdx+1:]), 64)
	if err != nil {
		return nil, syntaxError(text, "threshold %q is not a number", head[opIdx+1:])
	}

	s := &CounterSpec{
		Text: text,
		ID: counters.ID{
			Category: strings.TrimSpace(name[0]),
			Counter:  strings.TrimSpace(name[1]),
			Instance: strings.TrimSpace(name[2]),
		},
		GreaterThan: head[opIdx] == '>',
		Threshold:   value,
		MinSamples:  DefaultMinSamples,
	}

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, val, _ := strings.Cut(raw, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch strings.ToLower(key) {
		case "decaytozerohours":
			h, err := strconv.ParseFloat(val, 64)
			if err != nil || h < 0 {
				return nil, syntaxError(text, "DecayToZeroHours %q is not a non-negative number", val)
			}
			s.DecayToZero = threshold.HoursToWindow(h)
		case "minsamples", "minsamplesfortrigger":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, syntaxError(text, "MinSamples %q is not a positive integer", val)
			}
			s.MinSamples = n
		default:
			return nil, &ParseError{Spec: text, Reason: fmt.Sprintf("unknown option %q", key), Err: ErrUnknownKey}
		}
	}
	return s, nil
}

// Direction returns ">" or "<".
func (s *CounterSpec) Direction() string {
	if s.GreaterThan {
		return ">"
	}
	return "<"
}
