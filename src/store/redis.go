package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore persists documents in Redis, one key per path. It is the
// durable Store used in production; device and playback records survive
// process restarts through it.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisStore creates a store backed by the given Redis instance.
func NewRedisStore(cfg *RedisConfig, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "redis-store").Logger(),
		now:    time.Now,
	}
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStorage, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(path string) string { return s.prefix + path }

func (s *RedisStore) Get(ctx context.Context, path string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrStorage, path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrStorage, path, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	raw, err := encode(value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, path, err)
	}
	if err := s.client.Set(ctx, s.key(path), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStorage, path, err)
	}
	return nil
}

// Update does read-merge-write. Writers for one user are already serialized
// upstream, so no Redis-side transaction is needed.
func (s *RedisStore) Update(ctx context.Context, path string, partial map[string]any) error {
	current := make(map[string]any)
	raw, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: get %s: %v", ErrStorage, path, err)
	}
	if err == nil {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrStorage, path, err)
		}
	}
	for k, v := range partial {
		current[k] = v
	}
	return s.Set(ctx, path, current)
}

func (s *RedisStore) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	pattern := s.key(path) + "/*"
	childPrefix := s.key(path) + "/"
	out := make(map[string]json.RawMessage)

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		child := strings.TrimPrefix(key, childPrefix)
		if strings.Contains(child, "/") {
			continue
		}
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %v", ErrStorage, key, err)
		}
		out[child] = json.RawMessage(raw)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrStorage, path, err)
	}
	return out, nil
}
