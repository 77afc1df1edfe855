package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements Adapter using Redis. It provides durable shared
// storage suitable for server-side pipelines that outlive a single process.
type RedisAdapter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all pipeline keys (default: "beacon:").
	Prefix string
	// TTL is the key expiry duration (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisAdapter creates a new Redis storage adapter.
func NewRedisAdapter(cfg RedisConfig) (*RedisAdapter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "beacon:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisAdapter{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisAdapterFromClient creates a Redis adapter from an existing client.
// This is useful for testing with miniredis.
func NewRedisAdapterFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisAdapter {
	if prefix == "" {
		prefix = "beacon:"
	}
	return &RedisAdapter{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisAdapter) key(key string) string {
	return r.prefix + key
}

// Get retrieves the value stored under key.
func (r *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrAdapterClosed
	}
	r.mu.RUnlock()

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get key %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key.
func (r *RedisAdapter) Set(ctx context.Context, key string, value []byte) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrAdapterClosed
	}
	r.mu.RUnlock()

	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (r *RedisAdapter) Remove(ctx context.Context, key string) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrAdapterClosed
	}
	r.mu.RUnlock()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("remove key %s: %w", key, err)
	}
	return nil
}

// Close releases resources held by the adapter.
func (r *RedisAdapter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.client.Close()
}

// Ping checks if the Redis connection is alive.
func (r *RedisAdapter) Ping(ctx context.Context) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrAdapterClosed
	}
	r.mu.RUnlock()

	return r.client.Ping(ctx).Err()
}
