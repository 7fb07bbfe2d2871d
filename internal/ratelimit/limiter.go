// Package ratelimit enforces per-source request-rate ceilings and daily call
// quotas for the upstream enrichment sources.
//
// The requests-per-second ceiling is a local token bucket, or a Redis-backed
// sliding window spanning every worker when a shared window is configured.
// The daily quota is a fixed UTC-day window counter; backed by Redis it is
// shared by every worker that shares the upstream quota. The process-local
// fallbacks are only correct when this process is the sole caller of the
// upstream source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"threat-enricher/internal/common/logging"
)

// QuotaStore tracks fixed-window call counters shared across workers. Decr
// returns an increment that turned out to exceed the window's quota.
type QuotaStore interface {
	Incr(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// SourceConfig is one source's limiter settings.
type SourceConfig struct {
	RequestsPerSecond int  `json:"requests_per_second"`
	BurstSize         int  `json:"burst_size"`
	DailyQuota        int  `json:"daily_quota"` // 0 means unlimited
	Enabled           bool `json:"enabled"`
}

// Validate fills defaults for zero-valued settings.
func (c *SourceConfig) Validate() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerSecond
	}
}

type sourceState struct {
	config SourceConfig
	bucket *rate.Limiter
}

// Limiter enforces rate limits for any number of registered sources.
// Exhaustion never raises; callers treat a denied acquisition as "source
// unavailable for this call".
type Limiter struct {
	mu      sync.RWMutex
	sources map[string]*sourceState
	quota   QuotaStore
	window  RateWindow
	logger  logging.Logger
	now     func() time.Time
}

// NewLimiter creates a limiter backed by the given quota store.
func NewLimiter(quota QuotaStore, logger logging.Logger) *Limiter {
	if quota == nil {
		quota = NewLocalQuota()
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Limiter{
		sources: make(map[string]*sourceState),
		quota:   quota,
		logger:  logger,
		now:     time.Now,
	}
}

// UseSharedWindow routes the requests-per-second ceiling through a sliding
// window shared by every worker. Without one the ceiling is the process-local
// token bucket; Wait always uses the local bucket.
func (l *Limiter) UseSharedWindow(window RateWindow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = window
}

// Register configures limiting for a source. Unregistered sources are not
// limited.
func (l *Limiter) Register(source string, config SourceConfig) {
	config.Validate()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[source] = &sourceState{
		config: config,
		bucket: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.BurstSize),
	}
}

// Acquire attempts to take one call slot for the source without blocking.
// A false return means the source is unavailable for this call; the quota
// window, if any, only counts calls actually admitted.
func (l *Limiter) Acquire(ctx context.Context, source string) bool {
	state := l.state(source)
	if state == nil || !state.config.Enabled {
		return true
	}

	if !l.allowRate(ctx, source, state) {
		return false
	}

	return l.chargeQuota(ctx, source, state)
}

// Wait blocks until the rate ceiling admits a call or the context expires.
// The daily quota is still checked without blocking.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	state := l.state(source)
	if state == nil || !state.config.Enabled {
		return nil
	}

	if err := state.bucket.Wait(ctx); err != nil {
		return err
	}

	if !l.chargeQuota(ctx, source, state) {
		return fmt.Errorf("daily quota exhausted for %s", source)
	}
	return nil
}

// allowRate applies the requests-per-second ceiling, preferring the shared
// window and falling back to the local bucket when the window's backend
// fails.
func (l *Limiter) allowRate(ctx context.Context, source string, state *sourceState) bool {
	l.mu.RLock()
	window := l.window
	l.mu.RUnlock()

	if window != nil {
		allowed, err := window.Allow(ctx, "rps:"+source, state.config.RequestsPerSecond, time.Second)
		if err == nil {
			return allowed
		}
		l.logger.Warn("shared rate window unavailable, using local bucket",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
	}

	return state.bucket.Allow()
}

// chargeQuota charges the source's daily window for one call. An increment
// past the quota is returned, so the counter keeps meaning admitted calls.
func (l *Limiter) chargeQuota(ctx context.Context, source string, state *sourceState) bool {
	if state.config.DailyQuota <= 0 {
		return true
	}

	key := l.quotaKey(source)
	used, err := l.quota.Incr(ctx, key, 48*time.Hour)
	if err != nil {
		// A broken quota backend must not stall enrichment; allow and log.
		l.logger.Warn("quota store unavailable, allowing call",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
		return true
	}
	if used > int64(state.config.DailyQuota) {
		if _, err := l.quota.Decr(ctx, key); err != nil {
			l.logger.Warn("failed to return quota increment",
				logging.Field{Key: "source", Value: source}, logging.Err(err))
		}
		return false
	}
	return true
}

// RemainingQuota reports how many calls remain in the source's current UTC
// day, -1 when the source carries no daily quota.
func (l *Limiter) RemainingQuota(ctx context.Context, source string) int {
	state := l.state(source)
	if state == nil || !state.config.Enabled || state.config.DailyQuota <= 0 {
		return -1
	}

	used, err := l.quota.Get(ctx, l.quotaKey(source))
	if err != nil {
		l.logger.Warn("quota store unavailable",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
		return state.config.DailyQuota
	}

	remaining := state.config.DailyQuota - int(used)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats returns limiter state for the statistics snapshot.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]interface{}, len(l.sources))
	for name, state := range l.sources {
		stats[name] = map[string]interface{}{
			"enabled":             state.config.Enabled,
			"requests_per_second": state.config.RequestsPerSecond,
			"burst_size":          state.config.BurstSize,
			"daily_quota":         state.config.DailyQuota,
			"available_tokens":    state.bucket.Tokens(),
		}
	}
	return stats
}

func (l *Limiter) state(source string) *sourceState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sources[source]
}

// quotaKey names the fixed UTC-day window for a source. The 48h expiry on
// the counter outlives the window so late readers still see it.
func (l *Limiter) quotaKey(source string) string {
	return fmt.Sprintf("quota:%s:%s", source, l.now().UTC().Format("20060102"))
}
