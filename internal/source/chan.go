package source

import (
	"context"
	"sync"

	"tracetrigger/pkg/models"
)

// Chan is an in-process source fed through Send.
type Chan struct {
	events chan *models.TraceEvent
	closed chan struct{}
	once   sync.Once
}

// NewChan creates a channel source with the given buffer.
func NewChan(buffer int) *Chan {
	return &Chan{
		events: make(chan *models.TraceEvent, buffer),
		closed: make(chan struct{}),
	}
}

// Send queues ev, blocking while the buffer is full. It returns false once
// the source is closed.
func (c *Chan) Send(ev *models.TraceEvent) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Chan) Run(ctx context.Context, handle Handler, ready func()) error {
	if ready != nil {
		ready()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case ev := <-c.events:
			handle(ev)
		}
	}
}

func (c *Chan) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
