package source

import (
	"context"
	"sync"
	"time"

	redisinput "tracetrigger/internal/input/redis"
	"tracetrigger/internal/logger"
	"tracetrigger/internal/transform/etwjson"
)

// Redis reads JSON trace events from a Redis list.
type Redis struct {
	consumer *redisinput.Consumer
	closed   chan struct{}
	once     sync.Once
}

// NewRedis creates a Redis list source.
func NewRedis(cfg redisinput.Config) (*Redis, error) {
	consumer, err := redisinput.NewConsumer(cfg)
	if err != nil {
		return nil, err
	}
	return &Redis{consumer: consumer, closed: make(chan struct{})}, nil
}

func (r *Redis) Run(ctx context.Context, handle Handler, ready func()) error {
	if err := r.consumer.Ping(ctx); err != nil {
		return err
	}
	if n, err := r.consumer.Backlog(ctx); err == nil && n > 0 {
		logger.Infof("Redis list %s has %d queued events", r.consumer.Key(), n)
	}
	if ready != nil {
		ready()
	}
	for {
		payload, err := r.consumer.Pop(ctx)
		if err != nil {
			if r.stopped(ctx) {
				return nil
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return nil
			case <-r.closed:
				return nil
			}
			continue
		}
		if r.stopped(ctx) {
			return nil
		}
		if payload == nil {
			continue
		}
		ev, err := etwjson.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse trace event: %v", err)
			continue
		}
		handle(ev)
	}
}

func (r *Redis) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		err = r.consumer.Close()
	})
	return err
}
