package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canvassync/application/ports"
	"canvassync/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps values in Redis under a key prefix.
// A positive maxValueBytes rejects oversized values; a server OOM reply is also reported as quota.
type RedisStorage struct {
	client        *redis.Client
	prefix        string
	maxValueBytes int
}

// NewRedisStorage connects to redisURL and verifies the connection
func NewRedisStorage(redisURL, prefix string, maxValueBytes int) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, prefix, maxValueBytes), nil
}

// NewRedisStorageWithClient creates a storage from an existing Redis client
func NewRedisStorageWithClient(client *redis.Client, prefix string, maxValueBytes int) *RedisStorage {
	if prefix == "" {
		prefix = "canvassync:"
	}
	return &RedisStorage{
		client:        client,
		prefix:        prefix,
		maxValueBytes: maxValueBytes,
	}
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + k
}

// Get returns the stored value
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value without expiry
func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return errors.NewQuotaExceededError("redis", ports.ErrQuotaExceeded)
	}
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return errors.NewQuotaExceededError("redis", fmt.Errorf("%w: %v", ports.ErrQuotaExceeded, err))
		}
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis remove %s: %w", key, err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
