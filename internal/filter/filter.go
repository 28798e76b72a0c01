package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// Op is a field comparison operator.
type Op string

const (
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpRegex        Op = "~"
)

// ErrBadFilter is returned for filter text that cannot be parsed.
var ErrBadFilter = errors.New("bad field filter")

// FieldFilter compares one named payload field against a fixed value.
type FieldFilter struct {
	Field string
	Op    Op
	Value string

	num    float64
	hasNum bool
	re     *regexp.Regexp
}

// Parse parses `field<op>value`.
func Parse(text string) (FieldFilter, error) {
	idx := strings.IndexAny(text, "<>=!~")
	if idx < 0 {
		return FieldFilter{}, fmt.Errorf("%w: %q has no operator", ErrBadFilter, text)
	}
	name := strings.TrimSpace(text[:idx])
	if name == "" {
		return FieldFilter{}, fmt.Errorf("%w: %q has no field name", ErrBadFilter, text)
	}

	rest := text[idx:]
	var op Op
	switch {
	case strings.HasPrefix(rest, "<="):
		op = OpLessEqual
	case strings.HasPrefix(rest, ">="):
		op = OpGreaterEqual
	case strings.HasPrefix(rest, "!="):
		op = OpNotEqual
	case strings.HasPrefix(rest, "=="):
		op = OpEqual
		rest = rest[1:]
	case rest[0] == '<':
		op = OpLess
	case rest[0] == '>':
		op = OpGreater
	case rest[0] == '=':
		op = OpEqual
	case rest[0] == '~':
		op = OpRegex
	default:
		return FieldFilter{}, fmt.Errorf("%w: %q has unknown operator", ErrBadFilter, text)
	}
	value := strings.TrimSpace(rest[len(op):])
	return New(name, op, value)
}

// New builds a filter from its parts.
func New(field string, op Op, value string) (FieldFilter, error) {
	f := FieldFilter{Field: field, Op: op, Value: value}
	if op == OpRegex {
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return FieldFilter{}, fmt.Errorf("%w: regex %q: %v", ErrBadFilter, value, err)
		}
		f.re = re
		return f, nil
	}
	f.num, f.hasNum = parseNumber(value)
	return f, nil
}

// String renders the filter back to text form.
func (f FieldFilter) String() string {
	return f.Field + string(f.Op) + f.Value
}

// Matches reports whether the raw field text satisfies the filter.
//
// When either side is not numeric the comparison falls back to a
// case-insensitive string compare of (Value, raw), so `<` means "Value sorts
// before raw".
func (f FieldFilter) Matches(raw string) bool {
	if f.Op == OpRegex {
		return f.re != nil && f.re.MatchString(raw)
	}

	var cmp int
	if n, ok := parseNumber(raw); ok && f.hasNum {
		switch {
		case n < f.num:
			cmp = -1
		case n > f.num:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(strings.ToLower(f.Value), strings.ToLower(raw))
	}

	switch f.Op {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return float64(u), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Evaluator applies an AND of field filters to events. It is not safe for
// concurrent use; each trigger owns one.
type Evaluator struct {
	filters       []FieldFilter
	missingLogged []bool
	log           *zap.SugaredLogger
}

// NewEvaluator creates an evaluator. A nil log uses the global logger.
func NewEvaluator(filters []FieldFilter, log *zap.SugaredLogger) *Evaluator {
	if log == nil {
		log = logger.Named("filter")
	}
	return &Evaluator{
		filters:       filters,
		missingLogged: make([]bool, len(filters)),
		log:           log,
	}
}

// Len returns the number of configured filters.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.filters)
}

// Succeeds reports whether ev passes every filter.
func (e *Evaluator) Succeeds(ev models.FieldAccessor) bool {
	if e == nil {
		return true
	}
	for i, f := range e.filters {
		v, ok := ev.FieldValue(f.Field)
		if !ok {
			if !e.missingLogged[i] {
				e.missingLogged[i] = true
				e.log.Warnf("Field filter %s: event has no field %q, event dropped", f, f.Field)
			}
			return false
		}
		if !f.Matches(models.FormatValue(v)) {
			return false
		}
	}
	return true
}
