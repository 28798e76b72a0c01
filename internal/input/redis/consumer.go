package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis list consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops trace event payloads from a Redis list.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a consumer for the list named by cfg.Key.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Ping checks that the server is reachable.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.key, err)
	}
	return nil
}

// Pop pops one message, returning nil when the block timeout elapses.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Backlog returns the number of payloads waiting in the list.
func (c *Consumer) Backlog(ctx context.Context) (int64, error) {
	n, err := c.client.LLen(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", c.key, err)
	}
	return n, nil
}

// Key returns the list name.
func (c *Consumer) Key() string {
	return c.key
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// Push appends payloads to the tail of the list.
func (c *Consumer) Push(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := c.client.RPush(ctx, c.key, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", c.key, err)
	}
	return nil
}
