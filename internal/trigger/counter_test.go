package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracetrigger/internal/counters"
	"tracetrigger/internal/spec"
)

var fooBar = counters.ID{Category: "Foo", Counter: "Bar", Instance: "_Total"}

func newCounterTrigger(t *testing.T, text string, src counters.Source, armNow bool, fires *fireLog, clk *clock) *CounterTrigger {
	t.Helper()
	s, err := spec.ParseCounter(text)
	require.NoError(t, err)
	tr, err := NewCounterTrigger(CounterConfig{
		Name:           "counter",
		Spec:           s,
		Source:         src,
		ArmImmediately: armNow,
		OnTriggered:    fires.callback,
		Now:            clk.Now,
	})
	require.NoError(t, err)
	return tr
}

func sampleN(t *testing.T, tr *CounterTrigger, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Sample(context.Background()))
	}
}

func TestCounterFiresOnThirdSampleWhenArmed(t *testing.T) {
	src := counters.NewStatic()
	src.Push(fooBar, 60, 60, 60)
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, true, fires, newClock())

	sampleN(t, tr, 2)
	require.False(t, tr.Triggered())
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
	require.Equal(t, 1, fires.count())
	require.Equal(t, 60.0, tr.Record().Counts.Value)
	require.Equal(t, KindCounter, tr.Record().Kind)

	sampleN(t, tr, 3)
	require.Equal(t, 1, fires.count())
}

func TestCounterWaitsForUntriggeredSamples(t *testing.T) {
	src := counters.NewStatic()
	src.Push(fooBar, 60, 60, 60, 40, 40, 60, 60, 40, 60, 60)
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, false, fires, newClock())

	sampleN(t, tr, 3)
	require.False(t, tr.Triggered(), "already past at start")
	require.Contains(t, tr.Status(), "waiting")

	sampleN(t, tr, 2)
	require.False(t, tr.isArmed.Load(), "two safe samples are not enough")

	// A past sample resets the safe run.
	sampleN(t, tr, 2)
	sampleN(t, tr, 1)
	require.False(t, tr.isArmed.Load())
	sampleN(t, tr, 2)
	require.False(t, tr.Triggered())

	src.Push(fooBar, 40, 40, 40, 60, 60, 60)
	sampleN(t, tr, 3)
	require.True(t, tr.isArmed.Load())
	sampleN(t, tr, 2)
	require.False(t, tr.Triggered())
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
}

func TestCounterConsecutivePastRunResets(t *testing.T) {
	src := counters.NewStatic()
	src.Push(fooBar, 60, 60, 10, 60, 60)
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, true, fires, newClock())
	sampleN(t, tr, 5)
	require.False(t, tr.Triggered())
	src.Push(fooBar, 60)
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
}

func TestCounterLessThanWithMinSamples(t *testing.T) {
	src := counters.NewStatic()
	src.Push(fooBar, 100, 5)
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total<10;MinSamples=1", src, false, fires, newClock())
	sampleN(t, tr, 1)
	require.True(t, tr.isArmed.Load())
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
	require.Contains(t, tr.TriggeredMessage(), "< 10")
}

func TestCounterThresholdDecays(t *testing.T) {
	src := counters.NewStatic()
	src.Set(fooBar, 30)
	clk := newClock()
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50;DecayToZeroHours=1;MinSamples=1", src, true, fires, clk)

	sampleN(t, tr, 1)
	require.False(t, tr.Triggered())
	clk.Advance(45 * time.Minute)
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
	require.InDelta(t, 12.5, tr.Record().Counts.Threshold, 1e-9)
}

func TestCounterMissingInstanceSamplesZero(t *testing.T) {
	src := counters.NewStatic()
	src.Set(fooBar, 0)
	fires := &fireLog{}
	tr := newCounterTrigger(t, "Foo:Bar:_Total<1;MinSamples=2", src, true, fires, newClock())

	src.Remove(fooBar)
	sampleN(t, tr, 1)
	require.False(t, tr.Triggered())
	require.Contains(t, tr.Status(), "missing=1")
	sampleN(t, tr, 1)
	require.True(t, tr.Triggered())
	require.NoError(t, tr.Err())
}

func TestCounterSourceErrorHalts(t *testing.T) {
	src := counters.NewStatic()
	src.Set(fooBar, 1)
	tr := newCounterTrigger(t, "Foo:Bar:_Total>0;MinSamples=1", src, true, &fireLog{}, newClock())

	boom := errors.New("access denied")
	src.Fail(fooBar, boom)
	tr.poll()
	require.ErrorIs(t, tr.Err(), boom)
	require.Contains(t, tr.Status(), "[failed]")

	src.Set(fooBar, 5)
	tr.poll()
	require.False(t, tr.Triggered())
	<-tr.Done()
}

func TestCounterStartRequiresCounter(t *testing.T) {
	src := counters.NewStatic()
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, false, &fireLog{}, newClock())
	require.ErrorIs(t, tr.Start(), counters.ErrInstanceNotFound)
}

func TestCounterPollingLifecycle(t *testing.T) {
	src := counters.NewStatic()
	src.Set(fooBar, 99)
	fires := &fireLog{}
	s, err := spec.ParseCounter("Foo:Bar:_Total>50;MinSamples=1")
	require.NoError(t, err)
	tr, err := NewCounterTrigger(CounterConfig{
		Spec:           s,
		Source:         src,
		ArmImmediately: true,
		OnTriggered:    fires.callback,
	})
	require.NoError(t, err)
	require.Equal(t, fooBar.String(), tr.Name())

	require.NoError(t, tr.Start())
	require.ErrorIs(t, tr.Start(), ErrStarted)

	// The scheduler resolution is one second.
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("counter trigger did not fire")
	}
	require.Equal(t, 1, fires.count())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestCounterCloseBeforeStart(t *testing.T) {
	src := counters.NewStatic()
	src.Set(fooBar, 1)
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, false, &fireLog{}, newClock())
	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Start(), ErrClosed)
	<-tr.Done()
}

// slowSource blocks Exists until release is closed.
type slowSource struct {
	*counters.Static
	entered chan struct{}
	release chan struct{}
}

func (s *slowSource) Exists(ctx context.Context, id counters.ID) (bool, error) {
	close(s.entered)
	<-s.release
	return s.Static.Exists(ctx, id)
}

func TestCounterCloseDuringStartDoesNotWait(t *testing.T) {
	src := &slowSource{Static: counters.NewStatic(), entered: make(chan struct{}), release: make(chan struct{})}
	src.Set(fooBar, 1)
	tr := newCounterTrigger(t, "Foo:Bar:_Total>50", src, false, &fireLog{}, newClock())

	started := make(chan error, 1)
	go func() { started <- tr.Start() }()
	<-src.entered

	closed := make(chan struct{})
	go func() {
		require.NoError(t, tr.Close())
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the existence check")
	}

	close(src.release)
	require.ErrorIs(t, <-started, ErrClosed)
	<-tr.Done()
}
