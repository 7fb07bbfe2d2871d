package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestNewClientConnectionFailure(t *testing.T) {
	_, err := NewClient(&Config{Address: "localhost:1"})
	assert.Error(t, err)
}

func TestSetGet(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key", "value", time.Minute))
	value, err := client.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	require.NoError(t, client.Set(ctx, "bytes", []byte("raw"), time.Minute))
	value, err = client.Get(ctx, "bytes")
	require.NoError(t, err)
	assert.Equal(t, "raw", value)
}

func TestGetJSON(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Score int `json:"score"`
	}
	require.NoError(t, client.Set(ctx, "json", payload{Score: 42}, time.Minute))

	var decoded payload
	require.NoError(t, client.GetJSON(ctx, "json", &decoded))
	assert.Equal(t, 42, decoded.Score)
}

func TestDeleteExists(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key", "value", time.Minute))
	exists, err := client.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.Delete(ctx, "key"))
	exists, err = client.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIncrWithExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	value, err := client.IncrWithExpiry(ctx, "quota:reputation:20260824", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
	// The expiry is set on first increment only.
	assert.Greater(t, mr.TTL("quota:reputation:20260824"), time.Duration(0))

	value, err = client.IncrWithExpiry(ctx, "quota:reputation:20260824", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	mr.FastForward(2 * time.Hour)
	value, err = client.IncrWithExpiry(ctx, "quota:reputation:20260824", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestDecrCounter(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	_, err = client.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)

	value, err := client.DecrCounter(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestGetCounter(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	value, err := client.GetCounter(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	_, err = client.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	value, err = client.GetCounter(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestCheckRateLimit(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	allowed, count, err := client.CheckRateLimit(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0, count)

	allowed, _, err = client.CheckRateLimit(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, count, err = client.CheckRateLimit(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, count)
}

func TestLockLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	acquired, err := client.AcquireLock(ctx, "batch", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second acquisition of a held lock is refused.
	acquired, err = client.AcquireLock(ctx, "batch", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, client.ExtendLock(ctx, "batch", 2*time.Minute))
	require.NoError(t, client.ReleaseLock(ctx, "batch"))

	assert.Error(t, client.ExtendLock(ctx, "batch", time.Minute))

	acquired, err = client.AcquireLock(ctx, "batch", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}
