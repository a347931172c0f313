package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores documents in a shared Redis instance. Keys are
// namespaced under "rserv:" so a shared server can host other data.
type RedisCache struct {
	client *redis.Client
	ttl    Options
}

const redisPrefix = "rserv:"

// NewRedis connects to the Redis server at opts.Addr and verifies the
// connection with a ping.
func NewRedis(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return &RedisCache{client: client, ttl: opts}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, redisPrefix+key, value, c.ttl.TTL).Err()
}

// Invalidate implements Cache. Uses SCAN rather than KEYS so a busy server
// is not blocked.
func (c *RedisCache) Invalidate(ctx context.Context, substr string) error {
	iter := c.client.Scan(ctx, 0, redisPrefix+"*"+substr+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close implements Cache.
func (c *RedisCache) Close() error { return c.client.Close() }
