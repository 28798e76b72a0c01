package source

import (
	"context"
	"sync"

	"tracetrigger/pkg/models"
)

// Hub shares one upstream source between many sessions. It is used for
// transports where concurrent readers would split the stream, such as a
// Redis list.
type Hub struct {
	upstream Source

	mu       sync.Mutex
	handlers map[*hubSession]Handler
	started  bool
	cancel   context.CancelFunc
	ready    chan struct{}
	done     chan struct{}
	err      error
	once     sync.Once
}

// NewHub wraps upstream. Upstream runs from the first session until Close.
func NewHub(upstream Source) *Hub {
	return &Hub{
		upstream: upstream,
		handlers: make(map[*hubSession]Handler),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Session returns a new session fed by the hub.
func (h *Hub) Session() Source {
	return &hubSession{hub: h, closed: make(chan struct{})}
}

// Sessions returns the number of running sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

func (h *Hub) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		var readyOnce sync.Once
		err := h.upstream.Run(ctx, h.deliver, func() {
			readyOnce.Do(func() { close(h.ready) })
		})
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
}

func (h *Hub) deliver(ev *models.TraceEvent) {
	h.mu.Lock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (h *Hub) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close stops the upstream source.
func (h *Hub) Close() error {
	var err error
	h.once.Do(func() {
		h.mu.Lock()
		cancel := h.cancel
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		err = h.upstream.Close()
	})
	return err
}

type hubSession struct {
	hub    *Hub
	closed chan struct{}
	once   sync.Once
}

func (s *hubSession) Run(ctx context.Context, handle Handler, ready func()) error {
	h := s.hub
	h.mu.Lock()
	h.handlers[s] = handle
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.handlers, s)
		h.mu.Unlock()
	}()

	h.start()
	select {
	case <-h.ready:
		if ready != nil {
			ready()
		}
	case <-h.done:
		return h.failure()
	case <-ctx.Done():
		return nil
	case <-s.closed:
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-s.closed:
		return nil
	case <-h.done:
		return h.failure()
	}
}

func (s *hubSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
