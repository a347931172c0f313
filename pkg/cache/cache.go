// Package cache provides the per-document read cache used by the store.
//
// Two drivers implement the Cache interface, selected by the cache_type
// option:
//
//   - "ttlcache": in-process LRU with TTL expiration (default)
//   - "redis":    a shared Redis instance (go-redis)
//
// Values are opaque JSON blobs; keys follow "<entity>:<id>" for documents
// and "<entity>:list:..." for cached list pages, so invalidating an entity
// is a substring match on the key space.
package cache

import (
	"context"
	"time"
)

// Cache is the read-through cache contract.
//
// All methods are safe for concurrent use. A nil-tolerant caller pattern is
// not supported; use NewNop for a disabled cache.
type Cache interface {
	// Get returns the cached value for key, if present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key with the driver's configured TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Invalidate drops every key containing the given substring.
	Invalidate(ctx context.Context, substr string) error

	// Close releases driver resources.
	Close() error
}

// nopCache ignores everything. Used when caching is disabled and in tests.
type nopCache struct{}

// NewNop returns a cache that stores nothing.
func NewNop() Cache { return nopCache{} }

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, string, []byte) error         { return nil }
func (nopCache) Invalidate(context.Context, string) error          { return nil }
func (nopCache) Close() error                                      { return nil }

// Options configures a driver.
type Options struct {
	// TTL is how long entries stay fresh. Zero disables expiration.
	TTL time.Duration

	// MaxEntries bounds the in-memory driver (LRU eviction).
	MaxEntries int

	// Addr is the host:port of the Redis server (redis driver only).
	Addr string
}
