package trigger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracetrigger/internal/source"
	"tracetrigger/internal/spec"
	"tracetrigger/pkg/models"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fireLog struct {
	mu    sync.Mutex
	fired []Trigger
}

func (f *fireLog) callback(t Trigger) {
	f.mu.Lock()
	f.fired = append(f.fired, t)
	f.mu.Unlock()
}

func (f *fireLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func mustEvent(t *testing.T, text string) *spec.EventSpec {
	t.Helper()
	s, err := spec.ParseEvent(text)
	require.NoError(t, err)
	return s
}

func newEventTrigger(t *testing.T, text string, fires *fireLog, clk *clock) *EventTrigger {
	t.Helper()
	tr, err := NewEventTrigger(EventConfig{
		Name:        "test",
		Spec:        mustEvent(t, text),
		Source:      source.NewChan(16),
		OnTriggered: fires.callback,
		Now:         clk.Now,
	})
	require.NoError(t, err)
	return tr
}

func opEvent(name string, msec float64) *models.TraceEvent {
	return &models.TraceEvent{
		ProviderName: "MyProvider",
		EventName:    name,
		ProcessID:    7,
		ThreadID:     70,
		RelativeMSec: msec,
	}
}

func withFields(ev *models.TraceEvent, kv ...interface{}) *models.TraceEvent {
	ev.Fields = map[string]interface{}{}
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		ev.Fields[name] = kv[i+1]
		ev.FieldNames = append(ev.FieldNames, name)
	}
	return ev
}
