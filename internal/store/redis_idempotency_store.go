package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisIdempotencyStore keeps recorded write responses under
// "<prefix>:idem:<key>" with a TTL, so every service replica replays the
// same outcome for a retried Idempotency-Key.
type RedisIdempotencyStore struct {
	client    *redis.Client
	prefix    string
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewRedisIdempotencyStore wraps an open client. The store owns the client
// and closes it on Close.
func NewRedisIdempotencyStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisIdempotencyStore) key(k string) string {
	return s.prefix + ":idem:" + k
}

// Get returns the recorded response, or ErrNotFound once it expired.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get idempotency key: %w", err)
	}
	return data, nil
}

// SetNX records value unless a response is already recorded under key.
func (s *RedisIdempotencyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stored, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx idempotency key: %w", err)
	}
	if !stored {
		s.logger.Debug("idempotency key already recorded", zap.String("key", key))
	}
	return stored, nil
}

// Set records value under key, replacing any reservation or earlier response.
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set idempotency key: %w", err)
	}
	return nil
}

// Delete forgets a recorded response.
func (s *RedisIdempotencyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Unlink(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis unlink idempotency key: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client. Later calls return the first result.
func (s *RedisIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
