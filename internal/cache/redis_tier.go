package cache

import (
	"context"
	"time"

	"threat-enricher/internal/common/logging"
)

// RedisInterface is the minimal Redis surface the fast shared tier needs.
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// RedisTier is the process-shared fast tier. Redis handles TTL expiry
// itself, so reads never see an expired entry.
type RedisTier struct {
	client    RedisInterface
	keyPrefix string
	logger    logging.Logger
}

// NewRedisTier creates the shared tier over an established Redis client.
func NewRedisTier(client RedisInterface, logger logging.Logger) *RedisTier {
	if logger == nil {
		logger = logging.Global()
	}
	return &RedisTier{
		client:    client,
		keyPrefix: "enrich:cache:",
		logger:    logger,
	}
}

func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) Get(ctx context.Context, source, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := t.client.Get(ctx, t.keyPrefix+entryKey(source, key))
	if err != nil {
		// Cache miss and Redis failure are both treated as a miss; the
		// caller falls through to the next tier or the upstream source.
		return nil, false
	}
	return []byte(data), true
}

func (t *RedisTier) Put(ctx context.Context, source, key string, payload []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := t.client.Set(ctx, t.keyPrefix+entryKey(source, key), payload, ttl); err != nil {
		t.logger.Warn("redis cache write failed",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
	}
}

var _ Tier = (*RedisTier)(nil)
