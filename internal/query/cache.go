package query

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the read-through layer hot read endpoints (gateway list, time
// series) may optionally consult before hitting Postgres. A disabled cache
// is a nil Cache value; it is not a no-op, and calling a method on it panics.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// CacheConfig controls the optional Redis cache.
type CacheConfig struct {
	Enabled             bool
	RedisAddress        string
	RedisUsername       string
	RedisPassword       string
	RedisDB             int
	RedisTLSEnabled     bool
	RedisInsecureSkipVerify bool
	DefaultTTLSeconds   int
}

type redisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewCache builds the query cache, or returns nil if disabled.
func NewCache(cfg CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.RedisAddress == "" {
		return nil, fmt.Errorf("query: redis address must be provided when cache is enabled")
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddress,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.RedisInsecureSkipVerify,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("query: ping redis: %w", err)
	}

	ttl := time.Duration(cfg.DefaultTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &redisCache{client: client, defaultTTL: ttl}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.client.Get(ctx, key)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data, err := cmd.Bytes()
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
