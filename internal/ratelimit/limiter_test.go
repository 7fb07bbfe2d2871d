package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "threat-enricher/internal/redis"
)

func TestLimiterUnregisteredSourceAllowed(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	assert.True(t, limiter.Acquire(context.Background(), "anything"))
	assert.Equal(t, -1, limiter.RemainingQuota(context.Background(), "anything"))
}

func TestLimiterDisabledSourceAllowed(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{RequestsPerSecond: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Acquire(context.Background(), "reputation"))
	}
}

func TestLimiterRateCeiling(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Enabled:           true,
	})

	ctx := context.Background()
	assert.True(t, limiter.Acquire(ctx, "reputation"))
	// The single token is spent; the next immediate acquisition is denied
	// rather than queued.
	assert.False(t, limiter.Acquire(ctx, "reputation"))
}

func TestLimiterDailyQuotaFixedWindow(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		DailyQuota:        3,
		Enabled:           true,
	})

	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return day }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Acquire(ctx, "reputation"), "call %d", i)
	}
	assert.False(t, limiter.Acquire(ctx, "reputation"))
	assert.Equal(t, 0, limiter.RemainingQuota(ctx, "reputation"))

	// The window is a fixed UTC day: later the same day stays exhausted,
	// the next day starts a new counter.
	limiter.now = func() time.Time { return day.Add(10 * time.Hour) }
	assert.False(t, limiter.Acquire(ctx, "reputation"))

	limiter.now = func() time.Time { return day.Add(24 * time.Hour) }
	assert.True(t, limiter.Acquire(ctx, "reputation"))
	assert.Equal(t, 2, limiter.RemainingQuota(ctx, "reputation"))
}

func TestLimiterDeniedAcquireLeavesQuotaCounter(t *testing.T) {
	quota := NewLocalQuota()
	limiter := NewLimiter(quota, nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		DailyQuota:        2,
		Enabled:           true,
	})

	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return day }

	ctx := context.Background()
	require.True(t, limiter.Acquire(ctx, "reputation"))
	require.True(t, limiter.Acquire(ctx, "reputation"))

	// Denied attempts after exhaustion must not push the counter past the
	// quota; it keeps counting calls actually admitted.
	for i := 0; i < 5; i++ {
		assert.False(t, limiter.Acquire(ctx, "reputation"))
	}

	used, err := quota.Get(ctx, "quota:reputation:20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)
	assert.Equal(t, 0, limiter.RemainingQuota(ctx, "reputation"))
}

func TestLimiterRemainingQuota(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		DailyQuota:        5,
		Enabled:           true,
	})

	ctx := context.Background()
	assert.Equal(t, 5, limiter.RemainingQuota(ctx, "reputation"))
	require.True(t, limiter.Acquire(ctx, "reputation"))
	require.True(t, limiter.Acquire(ctx, "reputation"))
	assert.Equal(t, 3, limiter.RemainingQuota(ctx, "reputation"))
}

func TestLimiterSharedQuotaAcrossWorkers(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(&redisclient.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	config := SourceConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		DailyQuota:        2,
		Enabled:           true,
	}

	// Two limiters sharing one Redis counter model two worker processes
	// sharing the upstream quota.
	workerA := NewLimiter(NewRedisQuota(client), nil)
	workerA.Register("reputation", config)
	workerB := NewLimiter(NewRedisQuota(client), nil)
	workerB.Register("reputation", config)

	ctx := context.Background()
	assert.True(t, workerA.Acquire(ctx, "reputation"))
	assert.True(t, workerB.Acquire(ctx, "reputation"))
	assert.False(t, workerA.Acquire(ctx, "reputation"))
	assert.False(t, workerB.Acquire(ctx, "reputation"))
}

func TestLimiterSharedRateWindowAcrossWorkers(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(&redisclient.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	config := SourceConfig{
		RequestsPerSecond: 2,
		BurstSize:         2,
		Enabled:           true,
	}

	// Two limiters sharing one Redis window model two worker processes
	// sharing the upstream's request-rate ceiling.
	workerA := NewLimiter(NewRedisQuota(client), nil)
	workerA.Register("reputation", config)
	workerA.UseSharedWindow(NewRedisWindow(client))
	workerB := NewLimiter(NewRedisQuota(client), nil)
	workerB.Register("reputation", config)
	workerB.UseSharedWindow(NewRedisWindow(client))

	ctx := context.Background()
	assert.True(t, workerA.Acquire(ctx, "reputation"))
	assert.True(t, workerB.Acquire(ctx, "reputation"))
	// The ceiling spans both workers, not two tokens per process.
	assert.False(t, workerA.Acquire(ctx, "reputation"))
	assert.False(t, workerB.Acquire(ctx, "reputation"))
}

func TestLimiterSharedRateWindowFailureFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(&redisclient.Config{Address: mr.Addr()})
	require.NoError(t, err)

	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Enabled:           true,
	})
	limiter.UseSharedWindow(NewRedisWindow(client))

	// With the window backend gone, the local bucket still enforces the
	// ceiling instead of the limiter failing entirely.
	mr.Close()
	ctx := context.Background()
	assert.True(t, limiter.Acquire(ctx, "reputation"))
	assert.False(t, limiter.Acquire(ctx, "reputation"))
}

func TestLimiterQuotaStoreFailureAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(&redisclient.Config{Address: mr.Addr()})
	require.NoError(t, err)

	limiter := NewLimiter(NewRedisQuota(client), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		DailyQuota:        1,
		Enabled:           true,
	})

	// A broken quota backend fails open instead of stalling enrichment.
	mr.Close()
	assert.True(t, limiter.Acquire(context.Background(), "reputation"))
}

func TestLocalQuotaWindowExpiry(t *testing.T) {
	quota := NewLocalQuota().(*localQuota)
	now := time.Now()
	quota.now = func() time.Time { return now }

	ctx := context.Background()
	used, err := quota.Incr(ctx, "quota:reputation:20260824", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)

	quota.now = func() time.Time { return now.Add(2 * time.Hour) }
	used, err = quota.Get(ctx, "quota:reputation:20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestLimiterWait(t *testing.T) {
	limiter := NewLimiter(NewLocalQuota(), nil)
	limiter.Register("reputation", SourceConfig{
		RequestsPerSecond: 100,
		BurstSize:         1,
		Enabled:           true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx, "reputation"))
	// The second call must wait for a token but well within the deadline.
	require.NoError(t, limiter.Wait(ctx, "reputation"))
}
