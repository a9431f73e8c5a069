package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore caches write outcomes in Redis, shared across coordinators.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get returns the cached outcome for requestID.
func (s *RedisStore) Get(ctx context.Context, requestID string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set caches the outcome for requestID with a TTL.
func (s *RedisStore) Set(ctx context.Context, requestID string, outcome []byte, ttl time.Duration) error {
	return s.client.Set(ctx, redisKey(requestID), outcome, ttl).Err()
}

// Delete removes a cached outcome.
func (s *RedisStore) Delete(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, redisKey(requestID)).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(requestID string) string {
	return "idempotency:" + requestID
}

var _ Store = (*RedisStore)(nil)
