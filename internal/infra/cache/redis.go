package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a JSON-encoded shared cache tier. Keys outlive the freshness TTL
// by retention so a stale value is still available when the origin is down.
type Redis[T any] struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedis creates a Redis tier using an existing client.
func NewRedis[T any](client *redis.Client, keyPrefix string, retention time.Duration) *Redis[T] {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Redis[T]{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
	}
}

// Get loads the entry for key. ok is false when the key does not exist.
func (r *Redis[T]) Get(ctx context.Context, key string) (e Entry[T], ok bool, err error) {
	raw, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return e, true, nil
}

// Set stores the entry for key.
func (r *Redis[T]) Set(ctx context.Context, key string, e Entry[T]) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, raw, r.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
