package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLGetSet(t *testing.T) {
	c := NewTTL(Options{TTL: time.Minute})
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "users:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "users:1", []byte(`{"id":1}`)))
	val, ok, err := c.Get(ctx, "users:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":1}`, string(val))
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL(Options{TTL: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "users:1", []byte("x")))
	time.Sleep(25 * time.Millisecond)

	_, ok, err := c.Get(ctx, "users:1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Len())
}

func TestTTLInvalidateBySubstring(t *testing.T) {
	c := NewTTL(Options{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "users:1", []byte("a")))
	require.NoError(t, c.Set(ctx, "users:list:1:10", []byte("b")))
	require.NoError(t, c.Set(ctx, "posts:1", []byte("c")))

	require.NoError(t, c.Invalidate(ctx, "users:"))

	_, ok, _ := c.Get(ctx, "users:1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "users:list:1:10")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "posts:1")
	assert.True(t, ok, "other entities must survive")
}

func TestTTLEvictsLRU(t *testing.T) {
	c := NewTTL(Options{TTL: time.Minute, MaxEntries: 3})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("users:%d", i), []byte("x")))
	}
	// Touch users:1 so users:2 is the oldest.
	_, _, _ = c.Get(ctx, "users:1")
	require.NoError(t, c.Set(ctx, "users:4", []byte("x")))

	_, ok, _ := c.Get(ctx, "users:2")
	assert.False(t, ok, "LRU entry should be evicted")
	_, ok, _ = c.Get(ctx, "users:1")
	assert.True(t, ok)
}

func TestNopCache(t *testing.T) {
	c := NewNop()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Invalidate(ctx, "k"))
	require.NoError(t, c.Close())
}
