package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tracetrigger/internal/counters"
	"tracetrigger/internal/logger"
	"tracetrigger/internal/metrics"
	"tracetrigger/internal/spec"
	"tracetrigger/internal/threshold"
	"tracetrigger/pkg/models"
)

// DefaultPollInterval is the counter sampling period.
const DefaultPollInterval = time.Second

// CounterConfig configures a CounterTrigger.
type CounterConfig struct {
	Name   string
	Spec   *spec.CounterSpec
	Source counters.Source
	// Interval between samples. The scheduler resolution is one second.
	Interval time.Duration
	// ArmImmediately skips the wait for MinSamples samples on the safe side
	// of the threshold before the trigger can fire.
	ArmImmediately bool
	OnTriggered    Callback
	Metrics        *metrics.Trigger
	Now            func() time.Time
	Logger         *zap.SugaredLogger
}

// CounterTrigger fires once a counter stays past its decaying threshold for
// MinSamples consecutive samples.
type CounterTrigger struct {
	state

	spec      *spec.CounterSpec
	src       counters.Source
	interval  time.Duration
	metrics   *metrics.Trigger
	cron      *cron.Cron
	startedAt time.Time

	// Sampling state, serialized by sampleMu.
	sampleMu  sync.Mutex
	armed     bool
	safeRun   int
	pastRun   int
	warnedOut bool

	samples atomic.Int64
	missing atomic.Int64
	last    atomic.Uint64
	thresh  atomic.Uint64
	isArmed atomic.Bool

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewCounterTrigger builds a counter trigger. Polling begins on Start.
func NewCounterTrigger(cfg CounterConfig) (*CounterTrigger, error) {
	if cfg.Spec == nil {
		return nil, fmt.Errorf("counter trigger %q: spec is required", cfg.Name)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("counter trigger %q: source is required", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Spec.ID.String()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("trigger." + name)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	t := &CounterTrigger{
		state: state{
			name:     name,
			kind:     KindCounter,
			specText: cfg.Spec.Text,
			onFire:   cfg.OnTriggered,
			log:      log,
			now:      now,
		},
		spec:      cfg.Spec,
		src:       cfg.Source,
		interval:  interval,
		metrics:   cfg.Metrics,
		startedAt: now(),
		armed:     cfg.ArmImmediately,
		done:      make(chan struct{}),
	}
	t.isArmed.Store(t.armed)
	storeFloat(&t.thresh, cfg.Spec.Threshold)

	cl := cronLogger{log: log}
	t.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	if _, err := t.cron.AddFunc("@every "+interval.String(), t.poll); err != nil {
		return nil, fmt.Errorf("counter trigger %q: schedule: %w", name, err)
	}
	return t, nil
}

// Start checks that the counter exists and begins polling. The existence
// check runs without holding the lock so Close is never blocked on it.
func (t *CounterTrigger) Start() error {
	t.mu.Lock()
	switch {
	case t.closed.Load():
		t.mu.Unlock()
		return ErrClosed
	case t.started:
		t.mu.Unlock()
		return ErrStarted
	}
	t.started = true
	t.mu.Unlock()

	ok, err := t.src.Exists(context.Background(), t.spec.ID)
	if err == nil && !ok {
		err = fmt.Errorf("counter %s: %w", t.spec.ID, counters.ErrInstanceNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.started = false
		return fmt.Errorf("start %s: %w", t.name, err)
	}
	if t.closed.Load() {
		return ErrClosed
	}
	t.startedAt = t.now()
	t.cron.Start()
	t.log.Infof("Trigger started: %s every %s", t.spec.Text, t.interval)
	return nil
}

func (t *CounterTrigger) poll() {
	defer func() {
		if r := recover(); r != nil {
			t.fail(recovered(r))
			t.stopPolling()
		}
	}()
	if t.halted() {
		return
	}
	if err := t.Sample(context.Background()); err != nil {
		t.fail(err)
		t.stopPolling()
	}
}

// Sample takes one reading and advances the hysteresis state. A missing
// instance reads as zero; any other source error is returned.
func (t *CounterTrigger) Sample(ctx context.Context) error {
	t.sampleMu.Lock()
	defer t.sampleMu.Unlock()
	if t.halted() {
		return nil
	}

	value, err := t.src.Value(ctx, t.spec.ID)
	if err != nil {
		if !errors.Is(err, counters.ErrInstanceNotFound) {
			return fmt.Errorf("sample %s: %w", t.spec.ID, err)
		}
		t.missing.Add(1)
		t.log.Warnf("Counter %s instance missing, sampling as 0: %v", t.spec.ID, err)
		value = 0
	}
	t.samples.Add(1)
	storeFloat(&t.last, value)

	limit := threshold.Effective(t.spec.Threshold, t.spec.DecayToZero, t.startedAt, t.now())
	storeFloat(&t.thresh, limit)
	t.metrics.Sample(value, limit)

	past := value < limit
	if t.spec.GreaterThan {
		past = value > limit
	}

	if !t.armed {
		if past {
			t.safeRun = 0
			if !t.warnedOut {
				t.warnedOut = true
				t.log.Warnf("Counter %s is already %s %g (value %g); waiting for it to come back before arming",
					t.spec.ID, t.spec.Direction(), limit, value)
			}
			return nil
		}
		t.safeRun++
		if t.safeRun >= t.spec.MinSamples {
			t.armed = true
			t.isArmed.Store(true)
			t.log.Infof("Counter %s armed after %d samples", t.spec.ID, t.safeRun)
		}
		return nil
	}

	if !past {
		t.pastRun = 0
		return nil
	}
	t.pastRun++
	if t.pastRun < t.spec.MinSamples {
		return nil
	}

	msg := fmt.Sprintf("%s: counter %s = %g %s %g for %d samples",
		t.name, t.spec.ID, value, t.spec.Direction(), limit, t.pastRun)
	if t.fire(t, msg, 0, 0, models.FireStats{Value: value, Threshold: limit}) {
		t.metrics.Fired()
		t.stopPolling()
	}
	return nil
}

func (t *CounterTrigger) stopPolling() {
	t.stopOnce.Do(func() {
		ctx := t.cron.Stop()
		go func() {
			<-ctx.Done()
			close(t.done)
		}()
	})
}

// Close stops polling. It is idempotent and does not wait for a running
// sample; use Done for that.
func (t *CounterTrigger) Close() error {
	t.mu.Lock()
	t.closed.Store(true)
	t.mu.Unlock()
	t.stopPolling()
	return nil
}

func (t *CounterTrigger) Done() <-chan struct{} { return t.done }

// Status summarizes the trigger in one line.
func (t *CounterTrigger) Status() string {
	armed := "waiting"
	if t.isArmed.Load() {
		armed = "armed"
	}
	s := fmt.Sprintf("%s [%s] %s samples=%d last=%g threshold=%s%g",
		t.name, t.phase(), armed, t.samples.Load(), loadFloat(&t.last), t.spec.Direction(), loadFloat(&t.thresh))
	if n := t.missing.Load(); n > 0 {
		s += fmt.Sprintf(" missing=%d", n)
	}
	if err := t.Err(); err != nil {
		s += fmt.Sprintf(" error=%q", err.Error())
	}
	return s
}

// cronLogger routes scheduler messages to the trigger logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
