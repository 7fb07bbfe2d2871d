package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RedisQuotaClient is the minimal Redis surface the quota store needs.
type RedisQuotaClient interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	DecrCounter(ctx context.Context, key string) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
}

// redisQuota is a QuotaStore over a shared Redis counter, giving every
// worker that shares an upstream quota the same view of usage.
type redisQuota struct {
	client RedisQuotaClient
}

// NewRedisQuota creates a Redis-backed quota store.
func NewRedisQuota(client RedisQuotaClient) QuotaStore {
	return &redisQuota{client: client}
}

func (q *redisQuota) Incr(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return q.client.IncrWithExpiry(ctx, key, expiry)
}

func (q *redisQuota) Decr(ctx context.Context, key string) (int64, error) {
	return q.client.DecrCounter(ctx, key)
}

func (q *redisQuota) Get(ctx context.Context, key string) (int64, error) {
	return q.client.GetCounter(ctx, key)
}

// localQuota is the in-process fallback used when no Redis is configured.
// It only limits correctly when this process is the sole caller of the
// upstream source.
type localQuota struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiries map[string]time.Time
	now      func() time.Time
}

// NewLocalQuota creates a process-local quota store.
func NewLocalQuota() QuotaStore {
	return &localQuota{
		counts:   make(map[string]int64),
		expiries: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (q *localQuota) Incr(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.expire()

	if _, ok := q.counts[key]; !ok {
		q.expiries[key] = q.now().Add(expiry)
	}
	q.counts[key]++
	return q.counts[key], nil
}

func (q *localQuota) Decr(ctx context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.counts[key] > 0 {
		q.counts[key]--
	}
	return q.counts[key], nil
}

func (q *localQuota) Get(ctx context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.expire()
	return q.counts[key], nil
}

// expire drops counters past their window. Called with the lock held.
func (q *localQuota) expire() {
	now := q.now()
	for key, deadline := range q.expiries {
		if now.After(deadline) {
			delete(q.counts, key)
			delete(q.expiries, key)
		}
	}
}

var (
	_ QuotaStore = (*redisQuota)(nil)
	_ QuotaStore = (*localQuota)(nil)
)
