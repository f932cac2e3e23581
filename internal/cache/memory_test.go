package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k", "v", NoExpiry))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)
}

func TestMemoryCacheExpiryIsLazy(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	// Expiry must be observed on Get long before the 60s sweep runs
	require.NoError(t, c.SetEx(ctx, "k", 10*time.Millisecond, "v"))
	time.Sleep(30 * time.Millisecond)
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheNoExpiryEntriesSurvive(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", NoExpiry))
	time.Sleep(20 * time.Millisecond)
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryCacheDelAndDelMany(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", NoExpiry))
	require.NoError(t, c.Set(ctx, "b", "2", NoExpiry))
	require.NoError(t, c.Set(ctx, "c", "3", NoExpiry))

	require.NoError(t, c.Del(ctx, "a"))
	_, found, _ := c.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, c.DelMany(ctx, "b", "c"))
	_, found, _ = c.Get(ctx, "b")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "c")
	assert.False(t, found)

	// Deleting absent keys is not an error
	require.NoError(t, c.Del(ctx, "missing"))
	require.NoError(t, c.DelMany(ctx))
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", NoExpiry))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // second close must not panic

	// After close all prior keys read as absent
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Operations after close stay safe
	require.NoError(t, c.Set(ctx, "k2", "v2", NoExpiry))
	require.NoError(t, c.Del(ctx, "k"))
}
