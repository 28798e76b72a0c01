// Package trigger implements the event and counter triggers and their
// shared lifecycle.
package trigger

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tracetrigger/pkg/models"
)

var (
	// ErrClosed is returned by Start on a closed trigger.
	ErrClosed = errors.New("trigger closed")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("trigger already started")
)

// Kinds reported in fire records.
const (
	KindEvent   = "event"
	KindCounter = "counter"
)

// Trigger is a running condition that fires at most once.
type Trigger interface {
	Name() string
	// Start begins consuming and returns once the trigger is live.
	Start() error
	// Close stops the trigger and releases its source. It is idempotent and
	// safe to call from the callback.
	Close() error
	// Status returns a one-line summary; safe from any goroutine.
	Status() string
	Triggered() bool
	TriggeredMessage() string
	// Record returns the fire record, or nil before the trigger fires.
	Record() *models.TriggerFired
	// Err returns the error that halted the trigger, if any.
	Err() error
	// Done is closed once the trigger has stopped consuming.
	Done() <-chan struct{}
}

// Callback is invoked at most once, on the trigger's consuming goroutine.
type Callback func(Trigger)

// state is the terminal bookkeeping shared by both trigger kinds.
type state struct {
	name     string
	kind     string
	specText string
	onFire   Callback
	log      *zap.SugaredLogger
	now      func() time.Time

	fired  atomic.Bool
	closed atomic.Bool
	failed atomic.Bool
	record atomic.Pointer[models.TriggerFired]
	err    atomic.Pointer[error]
}

func (s *state) Name() string { return s.name }

func (s *state) Triggered() bool { return s.fired.Load() }

func (s *state) TriggeredMessage() string {
	if rec := s.record.Load(); rec != nil {
		return rec.Message
	}
	return ""
}

func (s *state) Record() *models.TriggerFired { return s.record.Load() }

func (s *state) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// halted reports whether no further firing may happen.
func (s *state) halted() bool {
	return s.fired.Load() || s.closed.Load() || s.failed.Load()
}

func (s *state) fail(err error) {
	if s.failed.CompareAndSwap(false, true) {
		s.err.Store(&err)
		s.log.Errorf("Trigger halted: %v", err)
	}
}

// fire records the outcome and runs the callback, once. self is the public
// trigger handed to the callback.
func (s *state) fire(self Trigger, message string, pid, tid int, stats models.FireStats) bool {
	if s.closed.Load() || s.failed.Load() {
		return false
	}
	if !s.fired.CompareAndSwap(false, true) {
		return false
	}
	s.record.Store(&models.TriggerFired{
		FireID:    uuid.NewString(),
		Trigger:   s.name,
		Kind:      s.kind,
		Spec:      s.specText,
		Message:   message,
		FiredAt:   s.now(),
		ProcessID: pid,
		ThreadID:  tid,
		Counts:    stats,
	})
	s.log.Infof("Trigger fired: %s", message)
	if s.onFire != nil {
		s.onFire(self)
	}
	return true
}

func (s *state) phase() string {
	switch {
	case s.failed.Load():
		return "failed"
	case s.fired.Load():
		return "fired"
	case s.closed.Load():
		return "closed"
	default:
		return "armed"
	}
}

// recovered turns a recovered panic value into an error.
func recovered(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

var (
	_ Trigger = (*EventTrigger)(nil)
	_ Trigger = (*CounterTrigger)(nil)
)
