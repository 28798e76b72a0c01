package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// FieldAccessor is implemented by anything exposing named payload values.
type FieldAccessor interface {
	// FieldValue returns the typed payload value for name.
	FieldValue(name string) (interface{}, bool)
	// Field returns the string form of a payload value, or "" when absent.
	Field(name string) string
}

// TraceEvent represents one decoded live trace event.
type TraceEvent struct {
	ProviderName string    `json:"provider"`
	ProviderGUID uuid.UUID `json:"provider_guid"`
	EventName    string    `json:"event_name"`
	EventID      int       `json:"event_id"`
	TaskName     string    `json:"task,omitempty"`
	TaskID       int       `json:"task_id,omitempty"`
	OpcodeName   string    `json:"opcode,omitempty"`
	Opcode       int       `json:"opcode_id,omitempty"`
	Level        int       `json:"level,omitempty"`
	Keywords     uint64    `json:"keywords,omitempty"`
	ProcessID    int       `json:"pid"`
	ThreadID     int       `json:"tid"`
	ProcessName  string    `json:"process_name,omitempty"`
	ActivityID   uuid.UUID `json:"activity_id"`
	Timestamp    time.Time `json:"@timestamp"`
	RelativeMSec float64   `json:"relative_msec"`
	// HasRelative is set when the transport supplied RelativeMSec, so that
	// a session-relative 0 is not mistaken for "absent".
	HasRelative bool `json:"has_relative,omitempty"`

	Fields map[string]interface{} `json:"fields"`
	// FieldNames holds payload names in declaration order.
	FieldNames []string `json:"field_names,omitempty"`
}

// Relative reports whether RelativeMSec carries the event time. Events
// built without the flag count as relative when the value is non-zero or
// no wall-clock timestamp exists.
func (e *TraceEvent) Relative() bool {
	return e.HasRelative || e.RelativeMSec != 0 || e.Timestamp.IsZero()
}

// FieldValue returns a payload value.
func (e *TraceEvent) FieldValue(name string) (interface{}, bool) {
	if e == nil || e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[name]
	return v, ok
}

// Field returns a field value.
func (e *TraceEvent) Field(name string) string {
	v, ok := e.FieldValue(name)
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// PayloadNames returns payload field names in order. Events decoded without
// ordering information fall back to sorted names.
func (e *TraceEvent) PayloadNames() []string {
	if e == nil {
		return nil
	}
	if len(e.FieldNames) > 0 {
		return e.FieldNames
	}
	if len(e.Fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FullName returns Task/Opcode when both are known, otherwise EventName.
func (e *TraceEvent) FullName() string {
	if e.TaskName != "" && e.OpcodeName != "" {
		return e.TaskName + "/" + e.OpcodeName
	}
	if e.EventName != "" {
		return e.EventName
	}
	return fmt.Sprintf("EventID(%d)", e.EventID)
}

// FormatValue renders a payload value as a string.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return fmt.Sprintf("%d", val)
	case int32:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case uint32:
		return fmt.Sprintf("%d", val)
	case uint64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
