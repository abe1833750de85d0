package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig carries the connection settings for a Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisBackend stores cache entries in Redis so multiple instances can
// share analysis results. Entries expire after the configured TTL; a zero
// TTL keeps them forever.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: "chromascope:analysis:",
		ttl:    cfg.TTL,
	}, nil
}

// Get returns the stored value for key, or ErrMiss.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}
	return value, nil
}

// Put stores value under key with the configured TTL.
func (r *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Keys returns all stored keys in sorted order, without the namespace
// prefix.
func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	stored, err := r.client.Keys(ctx, r.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("cache key listing failed: %w", err)
	}
	keys := make([]string, 0, len(stored))
	for _, s := range stored {
		keys = append(keys, strings.TrimPrefix(s, r.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
