package counters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis hash counter source.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisHash reads counters published by an external sampler into Redis
// hashes: key `<prefix>:<category>:<counter>`, one field per instance.
type RedisHash struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisHash connects to Redis and checks it is reachable.
func NewRedisHash(cfg RedisConfig) (*RedisHash, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis counters: %w", err)
	}

	return NewRedisHashClient(client, cfg.KeyPrefix), nil
}

// NewRedisHashClient wraps an existing client.
func NewRedisHashClient(client redis.Cmdable, prefix string) *RedisHash {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tracetrigger:counters"
	}
	r := &RedisHash{client: client, prefix: prefix}
	if c, ok := client.(interface{ Close() error }); ok {
		r.closer = c.Close
	}
	return r
}

// Key returns the hash key holding id's instances.
func (r *RedisHash) Key(id ID) string {
	return r.prefix + ":" + strings.ToLower(id.Category) + ":" + strings.ToLower(id.Counter)
}

func (r *RedisHash) Exists(ctx context.Context, id ID) (bool, error) {
	if id.Instance == "" || id.Instance == TotalInstance {
		n, err := r.client.HLen(ctx, r.Key(id)).Result()
		if err != nil {
			return false, fmt.Errorf("hlen %s: %w", r.Key(id), err)
		}
		return n > 0, nil
	}
	ok, err := r.client.HExists(ctx, r.Key(id), id.Instance).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", r.Key(id), err)
	}
	return ok, nil
}

// Value reads one instance. `_Total` (or an empty instance) uses the
// `_Total` field when present and otherwise sums every instance.
func (r *RedisHash) Value(ctx context.Context, id ID) (float64, error) {
	key := r.Key(id)
	if id.Instance != "" && id.Instance != TotalInstance {
		return r.field(ctx, key, id)
	}

	all, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(all) == 0 {
		return 0, fmt.Errorf("%s: %w", id, ErrInstanceNotFound)
	}
	if raw, ok := all[TotalInstance]; ok {
		return parseSample(key, TotalInstance, raw)
	}
	var sum float64
	for field, raw := range all {
		v, err := parseSample(key, field, raw)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

func (r *RedisHash) field(ctx context.Context, key string, id ID) (float64, error) {
	raw, err := r.client.HGet(ctx, key, id.Instance).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%s: %w", id, ErrInstanceNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("hget %s %s: %w", key, id.Instance, err)
	}
	return parseSample(key, id.Instance, raw)
}

func parseSample(key, field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s %s: %q is not a number", key, field, raw)
	}
	return v, nil
}

// Close closes the client when the source owns it.
func (r *RedisHash) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
