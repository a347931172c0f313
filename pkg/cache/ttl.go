package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// TTLCache is a thread-safe in-process LRU cache with TTL expiration.
//
// The structure is the classic pairing of a hash map for O(1) lookup with a
// doubly-linked list for LRU ordering. Expired entries are dropped lazily
// on Get and eagerly when evicting for capacity.
type TTLCache struct {
	mu sync.Mutex

	ttl        time.Duration
	maxEntries int

	list  *list.List
	items map[string]*list.Element
}

type ttlEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewTTL creates the in-memory driver. A zero MaxEntries defaults to 1024.
func NewTTL(opts Options) *TTLCache {
	max := opts.MaxEntries
	if max <= 0 {
		max = 1024
	}
	return &TTLCache{
		ttl:        opts.TTL,
		maxEntries: max,
		list:       list.New(),
		items:      make(map[string]*list.Element, max),
	}
}

// Get implements Cache.
func (c *TTLCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*ttlEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false, nil
	}
	c.list.MoveToFront(elem)
	return entry.value, true, nil
}

// Set implements Cache.
func (c *TTLCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*ttlEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		c.list.MoveToFront(elem)
		return nil
	}

	for c.list.Len() >= c.maxEntries {
		if back := c.list.Back(); back != nil {
			c.removeElement(back)
		}
	}

	entry := &ttlEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
	return nil
}

// Invalidate implements Cache. Substring match over all keys, matching the
// "<entity>:" keying convention.
func (c *TTLCache) Invalidate(_ context.Context, substr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if strings.Contains(key, substr) {
			c.removeElement(elem)
		}
	}
	return nil
}

// Len returns the current number of entries.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Close implements Cache.
func (c *TTLCache) Close() error { return nil }

// removeElement drops an element. Caller holds the lock.
func (c *TTLCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*ttlEntry).key)
}
