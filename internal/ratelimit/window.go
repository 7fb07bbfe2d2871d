package ratelimit

import (
	"context"
	"time"
)

// RateWindow is a sliding-window rate check shared across workers.
type RateWindow interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisWindowClient is the minimal Redis surface the shared window needs.
type RedisWindowClient interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// redisWindow is a RateWindow over the shared sliding-window counter, giving
// every worker the same view of the upstream's request-rate ceiling.
type redisWindow struct {
	client RedisWindowClient
}

// NewRedisWindow creates a Redis-backed shared rate window.
func NewRedisWindow(client RedisWindowClient) RateWindow {
	return &redisWindow{client: client}
}

func (w *redisWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := w.client.CheckRateLimit(ctx, key, limit, window)
	return allowed, err
}

var _ RateWindow = (*redisWindow)(nil)
