package etwjson

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tracetrigger/pkg/models"
)

type wireField struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type wireEvent struct {
	Provider     string      `json:"provider,omitempty"`
	ProviderGUID string      `json:"provider_guid,omitempty"`
	EventName    string      `json:"event_name,omitempty"`
	EventID      int         `json:"event_id"`
	Task         string      `json:"task,omitempty"`
	TaskID       int         `json:"task_id,omitempty"`
	Opcode       string      `json:"opcode,omitempty"`
	OpcodeID     int         `json:"opcode_id,omitempty"`
	Level        int         `json:"level,omitempty"`
	Keywords     string      `json:"keywords,omitempty"`
	PID          int         `json:"pid,omitempty"`
	TID          int         `json:"tid,omitempty"`
	ProcessName  string      `json:"process_name,omitempty"`
	ActivityID   string      `json:"activity_id,omitempty"`
	Timestamp    string      `json:"@timestamp,omitempty"`
	RelativeMSec *float64    `json:"relative_msec,omitempty"`
	Payload      []wireField `json:"payload,omitempty"`
}

// Encode renders ev in the form Parse reads, keeping payload order.
func Encode(ev *models.TraceEvent) ([]byte, error) {
	w := wireEvent{
		Provider:     ev.ProviderName,
		EventName:    ev.EventName,
		EventID:      ev.EventID,
		Task:         ev.TaskName,
		TaskID:       ev.TaskID,
		Opcode:       ev.OpcodeName,
		OpcodeID:     ev.Opcode,
		Level:        ev.Level,
		PID:          ev.ProcessID,
		TID:          ev.ThreadID,
		ProcessName:  ev.ProcessName,
	}
	if ev.HasRelative || ev.RelativeMSec != 0 {
		rel := ev.RelativeMSec
		w.RelativeMSec = &rel
	}
	if ev.ProviderGUID != uuid.Nil {
		w.ProviderGUID = ev.ProviderGUID.String()
	}
	if ev.ActivityID != uuid.Nil {
		w.ActivityID = ev.ActivityID.String()
	}
	if ev.Keywords != 0 {
		w.Keywords = "0x" + strconv.FormatUint(ev.Keywords, 16)
	}
	if !ev.Timestamp.IsZero() {
		w.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for _, name := range ev.PayloadNames() {
		v := ev.Fields[name]
		if id, ok := v.(uuid.UUID); ok {
			v = id.String()
		}
		w.Payload = append(w.Payload, wireField{Name: name, Value: v})
	}
	return json.Marshal(w)
}
