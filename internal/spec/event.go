package spec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tracetrigger/internal/correlation"
	"tracetrigger/internal/filter"
	"tracetrigger/internal/threshold"
	"tracetrigger/pkg/models"
)

var (
	// ErrSyntax marks malformed trigger text.
	ErrSyntax = errors.New("malformed trigger spec")
	// ErrUnknownKey marks an unrecognized key=value option.
	ErrUnknownKey = errors.New("unknown trigger option")

	errEmptyProvider = errors.New("empty provider name")
)

// ParseError reports why a trigger spec was rejected.
type ParseError struct {
	Spec   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trigger spec %q: %s", e.Spec, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func syntaxError(text, format string, args ...interface{}) error {
	return &ParseError{Spec: text, Reason: fmt.Sprintf(format, args...), Err: ErrSyntax}
}

// Levels, least to most verbose.
const (
	LevelAlways        = 0
	LevelCritical      = 1
	LevelError         = 2
	LevelWarning       = 3
	LevelInformational = 4
	LevelVerbose       = 5
)

// Matcher selects events by name, task/opcode or numeric id.
type Matcher struct {
	Name    string
	Opcode  string
	EventID int
	HasID   bool
}

// Matches reports whether ev is the event m describes.
func (m Matcher) Matches(ev *models.TraceEvent) bool {
	if m.HasID {
		return ev.EventID == m.EventID
	}
	if m.Opcode != "" {
		if strings.EqualFold(ev.TaskName, m.Name) && strings.EqualFold(ev.OpcodeName, m.Opcode) {
			return true
		}
		return strings.EqualFold(ev.EventName, m.Name+"/"+m.Opcode)
	}
	return strings.EqualFold(ev.EventName, m.Name) || strings.EqualFold(ev.FullName(), m.Name)
}

func (m Matcher) String() string {
	switch {
	case m.HasID:
		return strconv.Itoa(m.EventID)
	case m.Opcode != "":
		return m.Name + "/" + m.Opcode
	default:
		return m.Name
	}
}

func parseMatcher(text string) (Matcher, bool) {
	parts := strings.Split(strings.TrimSpace(text), "/")
	if len(parts) > 2 {
		return Matcher{}, false
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Matcher{}, false
	}
	m := Matcher{Name: name}
	if len(parts) == 2 {
		m.Opcode = strings.TrimSpace(parts[1])
		if m.Opcode == "" {
			return Matcher{}, false
		}
		return m, true
	}
	if id, err := strconv.Atoi(name); err == nil {
		m.EventID, m.HasID = id, true
	}
	return m, true
}

// DeriveStop picks the stop matcher implied by start: a Start opcode becomes
// Stop, a trailing "Start" in the name becomes "Stop", and anything else pairs
// with the event id following the observed start event. It reports false
// when the start event carries no id to pair with.
func DeriveStop(start Matcher, ev *models.TraceEvent) (Matcher, bool) {
	if !start.HasID {
		if strings.EqualFold(start.Opcode, "Start") {
			return Matcher{Name: start.Name, Opcode: "Stop"}, true
		}
		if start.Opcode == "" && strings.HasSuffix(start.Name, "Start") {
			return Matcher{Name: strings.TrimSuffix(start.Name, "Start") + "Stop"}, true
		}
	}
	if ev.EventID == 0 {
		return Matcher{}, false
	}
	return Matcher{EventID: ev.EventID + 1, HasID: true}, true
}

// EventSpec is the parsed form of an event trigger.
type EventSpec struct {
	Text     string
	Provider Provider
	Start    Matcher
	// Stop is nil until derived from the first start event.
	Stop         *Matcher
	Keywords     uint64
	Level        int
	KeySelector  correlation.Selector
	Filters      []filter.FieldFilter
	TriggerMSec  float64
	DecayToZero  time.Duration
	Process      string
	BufferSizeMB int
	Verbose      bool
	Warnings     []string
}

// SingleEvent reports whether the trigger fires on a single matching event
// rather than on a start/stop duration.
func (s *EventSpec) SingleEvent() bool {
	return s.TriggerMSec == 0
}

// ParseEvent parses `Provider/EventOrTask[/Opcode];key=value;...`.
func ParseEvent(text string) (*EventSpec, error) {
	parts := strings.Split(text, ";")
	head := strings.TrimSpace(parts[0])
	slash := strings.IndexByte(head, '/')
	if slash < 0 {
		return nil, syntaxError(text, "expected Provider/Event")
	}

	provider, warning, err := parseProvider(head[:slash])
	if err != nil {
		return nil, &ParseError{Spec: text, Reason: err.Error(), Err: ErrSyntax}
	}
	start, ok := parseMatcher(head[slash+1:])
	if !ok {
		return nil, syntaxError(text, "bad event name %q", head[slash+1:])
	}

	s := &EventSpec{
		Text:     text,
		Provider: provider,
		Start:    start,
		Keywords: ^uint64(0),
		Level:    LevelVerbose,
	}
	if warning != "" {
		s.Warnings = append(s.Warnings, warning)
	}

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, value := raw, ""
		if eq := strings.IndexByte(raw, '='); eq >= 0 {
			key, value = strings.TrimSpace(raw[:eq]), strings.TrimSpace(raw[eq+1:])
		}
		if err := s.apply(key, value); err != nil {
			return nil, &ParseError{Spec: text, Reason: err.Error(), Err: errKind(err)}
		}
	}

	if s.Stop != nil && s.SingleEvent() {
		s.Warnings = append(s.Warnings, "StopEvent ignored without TriggerMSec")
	}
	return s, nil
}

type unknownKeyError struct{ key string }

func (e unknownKeyError) Error() string { return fmt.Sprintf("unknown option %q", e.key) }

func errKind(err error) error {
	var uk unknownKeyError
	if errors.As(err, &uk) {
		return ErrUnknownKey
	}
	return ErrSyntax
}

func (s *EventSpec) apply(key, value string) error {
	switch strings.ToLower(key) {
	case "keywords":
		v := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
		kw, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return fmt.Errorf("Keywords %q is not a hex number", value)
		}
		s.Keywords = kw
	case "level":
		lvl, err := parseLevel(value)
		if err != nil {
			return err
		}
		s.Level = lvl
	case "triggermsec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("TriggerMSec %q is not a non-negative number", value)
		}
		s.TriggerMSec = v
	case "decaytozerohours":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("DecayToZeroHours %q is not a non-negative number", value)
		}
		s.DecayToZero = threshold.HoursToWindow(v)
	case "startstopid":
		if value == "" {
			return fmt.Errorf("StartStopID needs a value")
		}
		s.KeySelector = correlation.ParseSelector(value)
	case "process":
		s.Process = value
	case "stopevent":
		m, ok := parseMatcher(value)
		if !ok {
			return fmt.Errorf("bad StopEvent %q", value)
		}
		s.Stop = &m
	case "fieldfilter":
		f, err := filter.Parse(value)
		if err != nil {
			return err
		}
		s.Filters = append(s.Filters, f)
	case "verbose":
		if value == "" {
			s.Verbose = true
			return nil
		}
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("Verbose %q is not a boolean", value)
		}
		s.Verbose = v
	case "buffersizemb":
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("BufferSizeMB %q is not a non-negative integer", value)
		}
		s.BufferSizeMB = v
	default:
		return unknownKeyError{key: key}
	}
	return nil
}

func parseLevel(value string) (int, error) {
	switch strings.ToLower(value) {
	case "always", "logalways":
		return LevelAlways, nil
	case "critical":
		return LevelCritical, nil
	case "error":
		return LevelError, nil
	case "warning":
		return LevelWarning, nil
	case "informational", "info":
		return LevelInformational, nil
	case "verbose":
		return LevelVerbose, nil
	}
	lvl, err := strconv.Atoi(value)
	if err != nil || lvl < 0 || lvl > 255 {
		return 0, fmt.Errorf("Level %q is not a level name or number", value)
	}
	return lvl, nil
}

// Enabled reports whether the provider keyword/level mask admits ev.
func (s *EventSpec) Enabled(ev *models.TraceEvent) bool {
	if ev.Keywords != 0 && s.Keywords != 0 && ev.Keywords&s.Keywords == 0 {
		return false
	}
	if s.Level != LevelAlways && ev.Level > s.Level {
		return false
	}
	return true
}

// Name returns a short display name for the trigger.
func (s *EventSpec) Name() string {
	provider := s.Provider.Name
	if provider == "" {
		provider = s.Provider.GUID.String()
	}
	return provider + "/" + s.Start.String()
}
