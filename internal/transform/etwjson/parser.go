package etwjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracetrigger/pkg/models"
)

// Parse converts one JSON-encoded live trace event into a TraceEvent.
//
// The payload may be an object (field order is then lost) or an array of
// {"name": ..., "value": ...} pairs, which keeps declaration order.
func Parse(data []byte) (*models.TraceEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	event := &models.TraceEvent{
		ProviderName: getString(raw, "provider", "provider_name", "ProviderName"),
		EventName:    getString(raw, "event_name", "EventName", "name"),
		EventID:      getInt(raw, "event_id", "ID", "id"),
		TaskName:     getString(raw, "task", "TaskName"),
		TaskID:       getInt(raw, "task_id", "Task"),
		OpcodeName:   getString(raw, "opcode", "OpcodeName"),
		Opcode:       getInt(raw, "opcode_id", "Opcode"),
		Level:        getInt(raw, "level", "Level"),
		ProcessID:    getInt(raw, "pid", "process_id", "ProcessID"),
		ThreadID:     getInt(raw, "tid", "thread_id", "ThreadID"),
		ProcessName:  getString(raw, "process_name", "ProcessName"),
		RelativeMSec: getFloat(raw, "relative_msec", "TimeStampRelativeMSec"),
	}
	_, rel := getPath(raw, "relative_msec")
	if !rel {
		_, rel = getPath(raw, "TimeStampRelativeMSec")
	}
	event.HasRelative = rel
	event.ProviderGUID = getGUID(raw, "provider_guid", "ProviderGuid")
	event.ActivityID = getGUID(raw, "activity_id", "ActivityID")

	kw, err := getUint(raw, "keywords", "Keywords")
	if err != nil {
		return nil, err
	}
	event.Keywords = kw

	if ts := getString(raw, "@timestamp", "timestamp", "TimeStamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}

	payload, ok := getPath(raw, "payload")
	if !ok {
		payload, ok = getPath(raw, "fields")
	}
	if ok {
		if err := setPayload(event, payload); err != nil {
			return nil, err
		}
	}
	return event, nil
}

func setPayload(event *models.TraceEvent, payload interface{}) error {
	switch p := payload.(type) {
	case map[string]interface{}:
		event.Fields = make(map[string]interface{}, len(p))
		for k, v := range p {
			event.Fields[k] = normalize(v)
		}
	case []interface{}:
		event.Fields = make(map[string]interface{}, len(p))
		event.FieldNames = make([]string, 0, len(p))
		for i, item := range p {
			pair, ok := item.(map[string]interface{})
			if !ok {
				return fmt.Errorf("payload[%d] is not an object", i)
			}
			name, _ := pair["name"].(string)
			if name == "" {
				return fmt.Errorf("payload[%d] has no name", i)
			}
			if _, dup := event.Fields[name]; !dup {
				event.FieldNames = append(event.FieldNames, name)
			}
			event.Fields[name] = normalize(pair["value"])
		}
	case nil:
	default:
		return fmt.Errorf("payload must be an object or array, got %T", payload)
	}
	return nil
}

// normalize turns json.Number into int64, uint64 or float64.
func normalize(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return s
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case json.Number:
				return val.String()
			}
		}
	}
	return ""
}

func getInt(root map[string]interface{}, paths ...string) int {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case json.Number:
				if i, err := val.Int64(); err == nil {
					return int(i)
				}
				if f, err := val.Float64(); err == nil {
					return int(f)
				}
			case string:
				if val == "" {
					continue
				}
				if i, err := strconv.ParseInt(val, 0, 64); err == nil {
					return int(i)
				}
			}
		}
	}
	return 0
}

func getFloat(root map[string]interface{}, paths ...string) float64 {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case json.Number:
				if f, err := val.Float64(); err == nil && !math.IsNaN(f) {
					return f
				}
			case string:
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					return f
				}
			}
		}
	}
	return 0
}

func getUint(root map[string]interface{}, paths ...string) (uint64, error) {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case json.Number:
			u, err := strconv.ParseUint(val.String(), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", path, err)
			}
			return u, nil
		case string:
			u, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(val), "0x"), 16, 64)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", path, err)
			}
			return u, nil
		}
	}
	return 0, nil
}

func getGUID(root map[string]interface{}, paths ...string) uuid.UUID {
	if s := getString(root, paths...); s != "" {
		if id, err := uuid.Parse(strings.Trim(s, "{}")); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
