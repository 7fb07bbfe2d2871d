package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "threat-enricher/internal/redis"
)

func newTestMemoryTier(t *testing.T, maxSize int, maxTTL time.Duration) *MemoryTier {
	t.Helper()
	tier := NewMemoryTier(MemoryConfig{MaxSize: maxSize, MaxTTL: maxTTL})
	t.Cleanup(tier.Stop)
	return tier
}

func TestMemoryTierBasicOperations(t *testing.T) {
	tier := newTestMemoryTier(t, 10, time.Minute)
	ctx := context.Background()

	_, found := tier.Get(ctx, "origin", "1.2.3.4")
	assert.False(t, found)

	tier.Put(ctx, "origin", "1.2.3.4", []byte("payload"), time.Minute)
	payload, found := tier.Get(ctx, "origin", "1.2.3.4")
	require.True(t, found)
	assert.Equal(t, []byte("payload"), payload)

	// Same key under a different source is a distinct entry.
	_, found = tier.Get(ctx, "reputation", "1.2.3.4")
	assert.False(t, found)
}

func TestMemoryTierExpiry(t *testing.T) {
	tier := newTestMemoryTier(t, 10, time.Minute)
	ctx := context.Background()

	tier.Put(ctx, "origin", "1.2.3.4", []byte("payload"), 10*time.Millisecond)
	_, found := tier.Get(ctx, "origin", "1.2.3.4")
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found = tier.Get(ctx, "origin", "1.2.3.4")
	assert.False(t, found)
	assert.Equal(t, 0, tier.Size())
}

func TestMemoryTierLRUEviction(t *testing.T) {
	tier := newTestMemoryTier(t, 2, time.Minute)
	ctx := context.Background()

	tier.Put(ctx, "origin", "a", []byte("1"), time.Minute)
	tier.Put(ctx, "origin", "b", []byte("2"), time.Minute)

	// Touch "a" so "b" becomes least recently used.
	_, found := tier.Get(ctx, "origin", "a")
	require.True(t, found)

	tier.Put(ctx, "origin", "c", []byte("3"), time.Minute)
	assert.Equal(t, 2, tier.Size())

	_, found = tier.Get(ctx, "origin", "b")
	assert.False(t, found)
	_, found = tier.Get(ctx, "origin", "a")
	assert.True(t, found)
}

func TestMemoryTierTTLCap(t *testing.T) {
	tier := newTestMemoryTier(t, 10, 20*time.Millisecond)
	ctx := context.Background()

	// A long source TTL is capped at the tier's MaxTTL.
	tier.Put(ctx, "origin", "1.2.3.4", []byte("payload"), 24*time.Hour)
	time.Sleep(40 * time.Millisecond)

	_, found := tier.Get(ctx, "origin", "1.2.3.4")
	assert.False(t, found)
}

func TestTieredCachePromotion(t *testing.T) {
	fast := newTestMemoryTier(t, 10, time.Minute)
	slow := newTestMemoryTier(t, 10, time.Minute)
	tiered := NewTieredCache(Config{DefaultTTL: time.Minute}, fast, slow)
	ctx := context.Background()

	// Seed only the slow tier, as if this worker restarted.
	slow.Put(ctx, "origin", "1.2.3.4", []byte("payload"), time.Minute)

	payload, found := tiered.Get(ctx, "origin", "1.2.3.4")
	require.True(t, found)
	assert.Equal(t, []byte("payload"), payload)

	// The hit was promoted into the fast tier.
	promoted, found := fast.Get(ctx, "origin", "1.2.3.4")
	require.True(t, found)
	assert.Equal(t, []byte("payload"), promoted)

	assert.Equal(t, uint64(1), tiered.HitCount())
}

func TestTieredCacheWriteThrough(t *testing.T) {
	fast := newTestMemoryTier(t, 10, time.Minute)
	slow := newTestMemoryTier(t, 10, time.Minute)
	tiered := NewTieredCache(Config{DefaultTTL: time.Minute}, fast, slow)
	ctx := context.Background()

	tiered.Put(ctx, "origin", "1.2.3.4", []byte("payload"))

	for _, tier := range []*MemoryTier{fast, slow} {
		payload, found := tier.Get(ctx, "origin", "1.2.3.4")
		require.True(t, found)
		assert.Equal(t, []byte("payload"), payload)
	}
}

func TestTieredCacheMissCounting(t *testing.T) {
	fast := newTestMemoryTier(t, 10, time.Minute)
	tiered := NewTieredCache(Config{DefaultTTL: time.Minute}, fast)

	_, found := tiered.Get(context.Background(), "origin", "absent")
	assert.False(t, found)
	assert.Equal(t, uint64(1), tiered.MissCount())
	assert.Equal(t, uint64(0), tiered.HitCount())
}

func TestTieredCachePerSourceTTL(t *testing.T) {
	tiered := NewTieredCache(Config{
		TTLs: map[string]time.Duration{
			"origin":     90 * 24 * time.Hour,
			"reputation": 7 * 24 * time.Hour,
		},
		DefaultTTL: time.Hour,
	})

	assert.Equal(t, 90*24*time.Hour, tiered.TTL("origin"))
	assert.Equal(t, 7*24*time.Hour, tiered.TTL("reputation"))
	assert.Equal(t, time.Hour, tiered.TTL("geoip"))
}

func TestRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(&redisclient.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	tier := NewRedisTier(client, nil)
	ctx := context.Background()

	_, found := tier.Get(ctx, "origin", "1.2.3.4")
	assert.False(t, found)

	tier.Put(ctx, "origin", "1.2.3.4", []byte("payload"), time.Minute)
	payload, found := tier.Get(ctx, "origin", "1.2.3.4")
	require.True(t, found)
	assert.Equal(t, []byte("payload"), payload)

	// Redis enforces the TTL itself.
	mr.FastForward(2 * time.Minute)
	_, found = tier.Get(ctx, "origin", "1.2.3.4")
	assert.False(t, found)
}
