// Package cache implements the tiered lookup cache in front of the upstream
// enrichment sources: an in-process memory tier, a process-shared Redis tier
// and a durable store tier, consulted in that order.
//
// The cache is deliberately policy-free: it knows nothing about which source
// is mandatory or how the cascade judges freshness. Expiry is enforced lazily
// on read; a tier hit below the top triggers a write-through promotion to all
// faster tiers.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Tier is one cache layer. Payloads are opaque bytes; a miss and an expired
// entry look the same to the caller.
type Tier interface {
	Name() string
	Get(ctx context.Context, source, key string) ([]byte, bool)
	Put(ctx context.Context, source, key string, payload []byte, ttl time.Duration)
}

// Config holds per-source TTLs for the tiered cache.
type Config struct {
	// TTLs maps a source name to the lifetime of its cached payloads.
	TTLs map[string]time.Duration
	// DefaultTTL applies to sources without an explicit TTL.
	DefaultTTL time.Duration
}

// TieredCache reads through its tiers in order and promotes lower-tier hits.
type TieredCache struct {
	tiers  []Tier
	config Config

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTieredCache builds a cache over the given tiers, fastest first.
func NewTieredCache(config Config, tiers ...Tier) *TieredCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	return &TieredCache{
		tiers:  tiers,
		config: config,
	}
}

// TTL returns the configured lifetime for a source's cached payloads.
func (c *TieredCache) TTL(source string) time.Duration {
	if ttl, ok := c.config.TTLs[source]; ok && ttl > 0 {
		return ttl
	}
	return c.config.DefaultTTL
}

// Get looks the key up tier by tier. A hit below the top tier is written
// through to every faster tier before it is returned.
func (c *TieredCache) Get(ctx context.Context, source, key string) ([]byte, bool) {
	for i, tier := range c.tiers {
		payload, ok := tier.Get(ctx, source, key)
		if !ok {
			continue
		}

		ttl := c.TTL(source)
		for _, faster := range c.tiers[:i] {
			faster.Put(ctx, source, key, payload, ttl)
		}

		c.hits.Add(1)
		return payload, true
	}

	c.misses.Add(1)
	return nil, false
}

// Put writes the payload through every tier with the source's TTL. The
// caller is expected to have fetched the payload from the upstream source
// after a miss.
func (c *TieredCache) Put(ctx context.Context, source, key string, payload []byte) {
	ttl := c.TTL(source)
	for _, tier := range c.tiers {
		tier.Put(ctx, source, key, payload, ttl)
	}
}

// HitCount returns the number of tiered-cache hits since construction.
func (c *TieredCache) HitCount() uint64 { return c.hits.Load() }

// MissCount returns the number of tiered-cache misses since construction.
func (c *TieredCache) MissCount() uint64 { return c.misses.Load() }

// Stats returns cache counters for the statistics snapshot.
func (c *TieredCache) Stats() map[string]interface{} {
	tierNames := make([]string, 0, len(c.tiers))
	for _, tier := range c.tiers {
		tierNames = append(tierNames, tier.Name())
	}
	return map[string]interface{}{
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
		"tiers":  tierNames,
	}
}
