package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"tracetrigger/internal/logger"
	"tracetrigger/internal/transform/etwjson"
	"tracetrigger/pkg/models"
)

// NATSConfig configures a NATS subject source.
type NATSConfig struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	// BufferSizeMB caps pending bytes for the subscription; 0 keeps the
	// client default.
	BufferSizeMB int
}

// NATS receives JSON trace events published on a subject. Every session
// holds its own connection, so each trigger sees the full stream.
type NATS struct {
	cfg    NATSConfig
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex
	nc *nats.Conn
}

// NewNATS creates a NATS source. The connection is made by Run.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "tracetrigger"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	return &NATS{cfg: cfg, closed: make(chan struct{})}, nil
}

func (n *NATS) Run(ctx context.Context, handle Handler, ready func()) error {
	opts := []nats.Option{
		nats.Name(n.cfg.Name),
		nats.MaxReconnects(n.cfg.MaxReconnects),
		nats.ReconnectWait(n.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Errorf("NATS error on %s: %v", n.cfg.Subject, err)
		}),
	}
	nc, err := nats.Connect(n.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.mu.Lock()
	n.nc = nc
	n.mu.Unlock()
	defer nc.Close()

	sub, err := nc.Subscribe(n.cfg.Subject, func(msg *nats.Msg) {
		ev, err := etwjson.Parse(msg.Data)
		if err != nil {
			logger.Warnf("Failed to parse trace event from %s: %v", msg.Subject, err)
			return
		}
		handle(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.Subject, err)
	}
	defer sub.Unsubscribe()

	if n.cfg.BufferSizeMB > 0 {
		if err := sub.SetPendingLimits(-1, n.cfg.BufferSizeMB*1024*1024); err != nil {
			return fmt.Errorf("set pending limits: %w", err)
		}
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	if ready != nil {
		ready()
	}

	select {
	case <-ctx.Done():
	case <-n.closed:
	}
	return nil
}

func (n *NATS) Close() error {
	n.once.Do(func() {
		close(n.closed)
		n.mu.Lock()
		if n.nc != nil {
			n.nc.Close()
		}
		n.mu.Unlock()
	})
	return nil
}

// Publish encodes ev in the wire format NATS sessions decode.
func Publish(nc *nats.Conn, subject string, ev *models.TraceEvent) error {
	data, err := etwjson.Encode(ev)
	if err != nil {
		return err
	}
	return nc.Publish(subject, data)
}
