package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracetrigger/internal/counters"
	"tracetrigger/internal/source"
	"tracetrigger/internal/spec"
	"tracetrigger/internal/trigger"
	"tracetrigger/pkg/models"
)

type memWriter struct {
	mu      sync.Mutex
	records []*models.TriggerFired
	closed  bool
}

func (w *memWriter) WriteFired(records []*models.TriggerFired) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, records...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func eventTrigger(t *testing.T, m *Monitor, name, text string, src source.Source) *trigger.EventTrigger {
	t.Helper()
	s, err := spec.ParseEvent(text)
	require.NoError(t, err)
	tr, err := trigger.NewEventTrigger(trigger.EventConfig{Name: name, Spec: s, Source: src, OnTriggered: m.Callback})
	require.NoError(t, err)
	m.Add(tr)
	return tr
}

func TestMonitorReturnsFirstFire(t *testing.T) {
	w := &memWriter{}
	m := NewMonitor(w, 10*time.Millisecond)
	feed := source.NewChan(16)
	hub := source.NewHub(feed)
	defer hub.Close()

	slow := eventTrigger(t, m, "slow", "MyProvider/OpStart;TriggerMSec=100", hub.Session())
	crash := eventTrigger(t, m, "crash", "MyProvider/Crash", hub.Session())

	type result struct {
		rec *models.TriggerFired
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := m.Run(context.Background())
		done <- result{rec, err}
	}()

	require.Eventually(t, func() bool { return hub.Sessions() == 2 }, 2*time.Second, 5*time.Millisecond)
	feed.Send(&models.TraceEvent{ProviderName: "MyProvider", EventName: "OpStart", ThreadID: 1, RelativeMSec: 0})
	feed.Send(&models.TraceEvent{ProviderName: "MyProvider", EventName: "OpStop", ThreadID: 1, RelativeMSec: 250})

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "slow", res.rec.Trigger)
	require.True(t, slow.Triggered())
	require.False(t, crash.Triggered())

	w.mu.Lock()
	require.Len(t, w.records, 1)
	require.True(t, w.closed)
	w.mu.Unlock()
	<-crash.Done()
}

func TestMonitorFindsFireWithoutNotification(t *testing.T) {
	w := &memWriter{}
	m := NewMonitor(w, 0)
	s, err := spec.ParseEvent("MyProvider/Crash")
	require.NoError(t, err)
	feed := source.NewChan(4)
	// No OnTriggered: the monitor only learns of the fire through Done.
	tr, err := trigger.NewEventTrigger(trigger.EventConfig{Name: "crash", Spec: s, Source: feed})
	require.NoError(t, err)
	m.Add(tr)
	require.True(t, feed.Send(&models.TraceEvent{ProviderName: "MyProvider", EventName: "Crash", ProcessID: 3}))

	rec, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "crash", rec.Trigger)
	require.Equal(t, 3, rec.ProcessID)
	w.mu.Lock()
	require.Len(t, w.records, 1)
	w.mu.Unlock()
}

func TestMonitorStopsOnContext(t *testing.T) {
	m := NewMonitor(nil, 0)
	eventTrigger(t, m, "idle", "MyProvider/Never", source.NewChan(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMonitorAllStopped(t *testing.T) {
	m := NewMonitor(nil, 0)
	c, err := spec.ParseCounter("Foo:Bar:_Total>1;MinSamples=1")
	require.NoError(t, err)
	src := counters.NewStatic()
	src.Set(c.ID, 0)
	tr, err := trigger.NewCounterTrigger(trigger.CounterConfig{Spec: c, Source: src, OnTriggered: m.Callback})
	require.NoError(t, err)
	m.Add(tr)

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.Close()
	}()
	_, err = m.Run(context.Background())
	require.ErrorIs(t, err, ErrAllStopped)
}

func TestMonitorStartFailure(t *testing.T) {
	m := NewMonitor(nil, 0)
	c, err := spec.ParseCounter("Foo:Bar:_Total>1")
	require.NoError(t, err)
	tr, err := trigger.NewCounterTrigger(trigger.CounterConfig{Spec: c, Source: counters.NewStatic(), OnTriggered: m.Callback})
	require.NoError(t, err)
	m.Add(tr)
	_, err = m.Run(context.Background())
	require.ErrorIs(t, err, counters.ErrInstanceNotFound)

	_, err = NewMonitor(nil, 0).Run(context.Background())
	require.Error(t, err)
}
