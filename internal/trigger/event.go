package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tracetrigger/internal/correlation"
	"tracetrigger/internal/filter"
	"tracetrigger/internal/logger"
	"tracetrigger/internal/metrics"
	"tracetrigger/internal/procfilter"
	"tracetrigger/internal/rules"
	"tracetrigger/internal/source"
	"tracetrigger/internal/spec"
	"tracetrigger/internal/threshold"
	"tracetrigger/pkg/models"
)

// EventConfig configures an EventTrigger.
type EventConfig struct {
	Name   string
	Spec   *spec.EventSpec
	Source source.Source
	// Predicate, when set, must also accept the stop event (or the single
	// event) before the trigger fires.
	Predicate   rules.Predicate
	OnTriggered Callback
	Metrics     *metrics.Trigger
	Now         func() time.Time
	Logger      *zap.SugaredLogger
}

// EventTrigger fires when a start/stop pair lasts longer than the decaying
// threshold, or on the first matching event when no threshold is set.
type EventTrigger struct {
	state

	spec      *spec.EventSpec
	src       source.Source
	pred      rules.Predicate
	metrics   *metrics.Trigger
	procs     *procfilter.Filter
	filters   *filter.Evaluator
	resolver  *correlation.Resolver
	startedAt time.Time

	// Owned by the consuming goroutine.
	stop       *spec.Matcher
	stopWarned bool
	open       map[correlation.Key]startMark

	events  atomic.Int64
	starts  atomic.Int64
	orphans atomic.Int64
	tracked atomic.Int64
	pairs   pairStats
	thresh  atomic.Uint64

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	closeSrc  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewEventTrigger builds an event trigger. Nothing is consumed until Start.
func NewEventTrigger(cfg EventConfig) (*EventTrigger, error) {
	if cfg.Spec == nil {
		return nil, fmt.Errorf("event trigger %q: spec is required", cfg.Name)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("event trigger %q: source is required", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Spec.Name()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("trigger." + name)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	t := &EventTrigger{
		state: state{
			name:     name,
			kind:     KindEvent,
			specText: cfg.Spec.Text,
			onFire:   cfg.OnTriggered,
			log:      log,
			now:      now,
		},
		spec:      cfg.Spec,
		src:       cfg.Source,
		pred:      cfg.Predicate,
		metrics:   cfg.Metrics,
		procs:     procfilter.New(cfg.Spec.Process, log),
		filters:   filter.NewEvaluator(cfg.Spec.Filters, log),
		resolver:  correlation.NewResolver(cfg.Spec.KeySelector, log),
		startedAt: now(),
		open:      make(map[correlation.Key]startMark),
		done:      make(chan struct{}),
	}
	if !cfg.Spec.SingleEvent() {
		t.stop = cfg.Spec.Stop
	}
	storeFloat(&t.thresh, cfg.Spec.TriggerMSec)
	for _, w := range cfg.Spec.Warnings {
		log.Warnf("%s", w)
	}
	return t, nil
}

// Start subscribes the source and returns once events can flow.
func (t *EventTrigger) Start() error {
	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrStarted
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.startedAt = t.now()
	t.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }
	exited := make(chan error, 1)

	go t.run(ctx, markReady, exited)

	select {
	case <-ready:
		t.log.Infof("Trigger started: %s", t.spec.Text)
		return nil
	case err := <-exited:
		select {
		case <-ready:
			// the session went live and then ended, for example on a fast fire
			return nil
		default:
		}
		if err == nil {
			err = ErrClosed
		}
		return fmt.Errorf("start %s: %w", t.name, err)
	}
}

func (t *EventTrigger) run(ctx context.Context, ready func(), exited chan<- error) {
	defer close(t.done)
	defer t.releaseSource()

	err := t.src.Run(ctx, t.handle, ready)
	if err != nil && ctx.Err() == nil && !t.closed.Load() {
		t.fail(fmt.Errorf("source: %w", err))
	}
	exited <- err
}

// handle is the source callback. A panic while processing halts the trigger.
func (t *EventTrigger) handle(ev *models.TraceEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.fail(recovered(r))
			t.stopConsuming()
		}
	}()
	t.Process(ev)
}

// Process runs one event through the engine. Calls must not overlap.
func (t *EventTrigger) Process(ev *models.TraceEvent) {
	if ev == nil || t.halted() {
		return
	}
	t.events.Add(1)
	t.metrics.Event()

	if !t.procs.Allow(ev) {
		t.metrics.Dropped("process")
		return
	}
	if !t.spec.Provider.Matches(ev) {
		t.metrics.Dropped("provider")
		return
	}
	if !t.spec.Enabled(ev) {
		t.metrics.Dropped("level")
		return
	}

	if t.spec.Start.Matches(ev) {
		t.onStart(ev)
	} else if t.stop != nil && t.stop.Matches(ev) {
		t.onStop(ev)
	}
}

func (t *EventTrigger) onStart(ev *models.TraceEvent) {
	if !t.filters.Succeeds(ev) {
		t.metrics.Dropped("filter")
		return
	}

	if t.spec.SingleEvent() {
		if t.pred != nil && !t.pred.Match(ev) {
			return
		}
		msg := fmt.Sprintf("%s: event %s seen (pid %d, tid %d%s)",
			t.name, ev.FullName(), ev.ProcessID, ev.ThreadID, t.delay(ev))
		t.fireAndStop(msg, ev, models.FireStats{})
		return
	}

	key := t.resolver.Resolve(ev)
	t.open[key] = markOf(ev)
	if t.stop == nil {
		if stop, ok := spec.DeriveStop(t.spec.Start, ev); ok {
			t.stop = &stop
			t.log.Infof("Stop event derived from %s: %s", t.spec.Start, stop)
		} else if !t.stopWarned {
			t.stopWarned = true
			t.log.Warnf("Cannot derive a stop event from %s without an event id; set StopEvent", ev.FullName())
		}
	}
	t.starts.Add(1)
	t.tracked.Store(int64(len(t.open)))
	t.metrics.Started(len(t.open))
	t.verbosef("Start %s key %s at %.3f msec", ev.FullName(), key, ev.RelativeMSec)
}

func (t *EventTrigger) onStop(ev *models.TraceEvent) {
	key := t.resolver.Resolve(ev)
	start, ok := t.open[key]
	if !ok {
		t.orphans.Add(1)
		t.metrics.Orphan()
		if t.filters.Len() == 0 && t.pred == nil {
			t.log.Debugf("Stop %s key %s has no open start", ev.FullName(), key)
		}
		return
	}
	delete(t.open, key)
	t.tracked.Store(int64(len(t.open)))

	duration := start.until(markOf(ev))
	t.pairs.add(duration)
	limit := threshold.Effective(t.spec.TriggerMSec, t.spec.DecayToZero, t.startedAt, t.now())
	storeFloat(&t.thresh, limit)
	t.metrics.Pair(duration, len(t.open), limit)
	t.verbosef("Stop %s key %s duration %.3f msec (threshold %.3f)", ev.FullName(), key, duration, limit)

	if duration <= limit {
		return
	}
	if t.pred != nil && !t.pred.Match(ev) {
		return
	}

	msg := fmt.Sprintf("%s: duration %.3f msec exceeded %.3f msec (pid %d, tid %d%s)",
		t.name, duration, limit, ev.ProcessID, ev.ThreadID, t.delay(ev))
	t.fireAndStop(msg, ev, models.FireStats{
		DurationMSec:  duration,
		ThresholdMSec: limit,
		Pairs:         t.pairs.count.Load(),
		MaxMSec:       loadFloat(&t.pairs.max),
	})
}

func (t *EventTrigger) fireAndStop(msg string, ev *models.TraceEvent, stats models.FireStats) {
	if t.fire(t, msg, ev.ProcessID, ev.ThreadID, stats) {
		t.metrics.Fired()
		t.stopConsuming()
	}
}

func (t *EventTrigger) delay(ev *models.TraceEvent) string {
	if ev.Timestamp.IsZero() {
		return ""
	}
	return fmt.Sprintf(", delay %.1f msec", float64(t.now().Sub(ev.Timestamp))/float64(time.Millisecond))
}

func (t *EventTrigger) verbosef(format string, args ...interface{}) {
	if t.spec.Verbose {
		t.log.Infof(format, args...)
		return
	}
	t.log.Debugf(format, args...)
}

// startMark is the time of an open start. Both ends of a pair are measured
// on the same base: session-relative when both have it, else wall clock.
type startMark struct {
	rel      float64
	relative bool
	wall     time.Time
}

func markOf(ev *models.TraceEvent) startMark {
	return startMark{rel: ev.RelativeMSec, relative: ev.Relative(), wall: ev.Timestamp}
}

// until returns the milliseconds from m to stop.
func (m startMark) until(stop startMark) float64 {
	if m.relative && stop.relative {
		return stop.rel - m.rel
	}
	if !m.wall.IsZero() && !stop.wall.IsZero() {
		return float64(stop.wall.Sub(m.wall)) / float64(time.Millisecond)
	}
	return stop.rel - m.rel
}

func (t *EventTrigger) stopConsuming() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *EventTrigger) releaseSource() {
	t.closeSrc.Do(func() {
		if err := t.src.Close(); err != nil {
			t.log.Warnf("Failed to close source: %v", err)
		}
	})
}

// Close stops consumption. It does not wait for the consuming goroutine; use
// Done for that.
func (t *EventTrigger) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.mu.Lock()
		started := t.started
		t.started = true
		t.mu.Unlock()
		t.stopConsuming()
		t.releaseSource()
		if !started {
			close(t.done)
		}
	})
	return nil
}

func (t *EventTrigger) Done() <-chan struct{} { return t.done }

// Status summarizes the trigger in one line.
func (t *EventTrigger) Status() string {
	s := fmt.Sprintf("%s [%s] events=%d starts=%d open=%d orphans=%d pairs=%d",
		t.name, t.phase(), t.events.Load(), t.starts.Load(), t.tracked.Load(), t.orphans.Load(), t.pairs.count.Load())
	if !t.spec.SingleEvent() {
		s += fmt.Sprintf(" max=%.3fms mean=%.3fms threshold=%.3fms",
			loadFloat(&t.pairs.max), t.pairs.mean(), loadFloat(&t.thresh))
	}
	if n := t.procs.Dropped(); n > 0 {
		s += fmt.Sprintf(" process_dropped=%d", n)
	}
	if n := t.resolver.MissingFields(); n > 0 {
		s += fmt.Sprintf(" key_missing=%d", n)
	}
	if err := t.Err(); err != nil {
		s += fmt.Sprintf(" error=%q", err.Error())
	}
	return s
}
