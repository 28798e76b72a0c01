package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tracetrigger/internal/logger"
	"tracetrigger/internal/trigger"
	"tracetrigger/pkg/models"
)

// ErrAllStopped is returned when every trigger halted without firing.
var ErrAllStopped = errors.New("all triggers stopped without firing")

// Monitor runs a set of triggers until the first one fires.
type Monitor struct {
	triggers       []trigger.Trigger
	writer         FireWriter
	statusInterval time.Duration
	fired          chan trigger.Trigger
	closeOnce      sync.Once
}

// NewMonitor creates a monitor. writer may be nil; a zero statusInterval
// disables periodic status logs.
func NewMonitor(writer FireWriter, statusInterval time.Duration) *Monitor {
	return &Monitor{
		writer:         writer,
		statusInterval: statusInterval,
		fired:          make(chan trigger.Trigger, 16),
	}
}

// Callback is handed to triggers so the monitor learns when they fire.
func (m *Monitor) Callback(t trigger.Trigger) {
	select {
	case m.fired <- t:
	default:
		logger.Warnf("Fire of %s dropped, monitor is busy", t.Name())
	}
}

// Add registers a trigger built with Callback.
func (m *Monitor) Add(t trigger.Trigger) {
	m.triggers = append(m.triggers, t)
}

// Triggers returns the registered triggers.
func (m *Monitor) Triggers() []trigger.Trigger {
	return m.triggers
}

// Run starts every trigger and blocks until one fires, all of them halt, or
// ctx is done. The fire record is written before Run returns it.
func (m *Monitor) Run(ctx context.Context) (*models.TriggerFired, error) {
	defer m.Close()

	if len(m.triggers) == 0 {
		return nil, fmt.Errorf("no triggers to run")
	}
	for _, t := range m.triggers {
		if err := t.Start(); err != nil {
			return nil, err
		}
	}
	logger.Infof("Monitoring %d triggers", len(m.triggers))

	stopped := make(chan trigger.Trigger, len(m.triggers))
	for _, t := range m.triggers {
		go func(t trigger.Trigger) {
			<-t.Done()
			stopped <- t
		}(t)
	}

	var tick <-chan time.Time
	if m.statusInterval > 0 {
		ticker := time.NewTicker(m.statusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	remaining := len(m.triggers)
	for {
		select {
		case <-ctx.Done():
			m.logStatus()
			return nil, ctx.Err()
		case t := <-m.fired:
			return m.record(t)
		case t := <-stopped:
			if t.Record() != nil {
				// fired; the notification may have been dropped by Callback
				return m.record(t)
			}
			if err := t.Err(); err != nil {
				logger.Errorf("Trigger %s stopped: %v", t.Name(), err)
			}
			remaining--
			if remaining == 0 {
				select {
				case t := <-m.fired:
					return m.record(t)
				default:
				}
				m.logStatus()
				return nil, ErrAllStopped
			}
		case <-tick:
			m.logStatus()
		}
	}
}

func (m *Monitor) record(t trigger.Trigger) (*models.TriggerFired, error) {
	rec := t.Record()
	if rec == nil {
		return nil, fmt.Errorf("trigger %s fired without a record", t.Name())
	}
	logger.Infof("Trigger %s fired: %s", t.Name(), rec.Message)
	if m.writer != nil {
		if err := m.writer.WriteFired([]*models.TriggerFired{rec}); err != nil {
			return rec, fmt.Errorf("write fire record: %w", err)
		}
	}
	return rec, nil
}

func (m *Monitor) logStatus() {
	for _, t := range m.triggers {
		logger.Infof("Status: %s", t.Status())
	}
}

// Close stops every trigger and the writer.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		for _, t := range m.triggers {
			if cerr := t.Close(); cerr != nil {
				logger.Errorf("Failed to close trigger %s: %v", t.Name(), cerr)
			}
		}
		if m.writer != nil {
			err = m.writer.Close()
		}
	})
	return err
}
