package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a KeyValueStore backed by Redis. Expiry is delegated to Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis store from a redis:// or rediss:// URL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore: invalid URL", "error", err)
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	slog.Debug("RedisStore: client created", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return NewRedisStoreFromClient(redis.NewClient(redisOpts)), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var (
		ok  bool
		err error
	)
	if ttl <= 0 {
		ok, err = s.client.Persist(ctx, key).Result()
		if err == nil && !ok {
			// PERSIST reports false for keys without a ttl; check existence instead.
			var n int64
			n, err = s.client.Exists(ctx, key).Result()
			ok = n > 0
		}
	} else {
		ok, err = s.client.Expire(ctx, key, ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("failed to set expiry on key %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
