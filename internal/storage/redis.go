package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/absens/internal/config"
)

// NewRedisClient connects to Redis. Returns nil if the URL is empty (Redis not configured).
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

const (
	idempotencyKeyPrefix = "absens:idem:"
	idempotencyPending   = "pending"
)

// RedisIdempotencyStore remembers which record a client-supplied idempotency key
// produced, so a retried create returns the original record instead of a duplicate.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

// Reserve claims key for a new submission. It returns "" when the caller now owns the
// key, the record id when the key already completed, and ErrConflict while another
// submission holds it.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (string, error) {
	k := idempotencyKeyPrefix + key
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, idempotencyPending, s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("reserve idempotency key: %w: %w", ErrUnavailable, err)
		}
		if ok {
			return "", nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read idempotency key: %w: %w", ErrUnavailable, err)
		}
		if val == idempotencyPending {
			return "", ErrConflict
		}
		return val, nil
	}
	return "", ErrConflict
}

// Complete binds key to the created record id.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, recordID string) error {
	if err := s.client.Set(ctx, idempotencyKeyPrefix+key, recordID, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Release frees a reserved key after a failed submission.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
