package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_MissThenHitIncrementsCount(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	key := CacheKey{QueryHash: "abc", TenantID: "tenant-a"}

	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Put(ctx, key, CacheEntry{ResponseText: "cached answer"}, time.Hour))

	entry, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "cached answer", entry.ResponseText)
	assert.Equal(t, int64(1), entry.HitCount)

	entry, hit, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, int64(2), entry.HitCount)
}

func TestMemoryCache_ExpiredEntryIsMiss(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	key := CacheKey{QueryHash: "abc"}

	require.NoError(t, c.Put(ctx, key, CacheEntry{ResponseText: "stale"}, -time.Minute))

	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestNormalizeQueryHash_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := NormalizeQueryHash("  What is the refund policy?  ")
	b := NormalizeQueryHash("what is the refund policy?")
	assert.Equal(t, a, b)
}

func TestCacheKey_DistinctTenantsDistinctKeys(t *testing.T) {
	a := CacheKey{QueryHash: "h", TenantID: "tenant-a"}
	b := CacheKey{QueryHash: "h", TenantID: "tenant-b"}
	assert.NotEqual(t, a.redisKey(), b.redisKey())
}
