package cache

import (
	"context"
	"time"

	"threat-enricher/internal/common/logging"
)

// CacheStore is the durable-tier surface the storage layer provides. It
// enforces expiry on read and tracks per-entry hit counts.
type CacheStore interface {
	CacheGet(source, key string) ([]byte, bool, error)
	CachePut(source, key string, payload []byte, ttl time.Duration) error
}

// StoreTier is the slow, durable tier backed by the transactional store. It
// survives restarts and is queryable alongside the records derived from it.
type StoreTier struct {
	store  CacheStore
	logger logging.Logger
}

// NewStoreTier creates the durable tier over the storage layer.
func NewStoreTier(store CacheStore, logger logging.Logger) *StoreTier {
	if logger == nil {
		logger = logging.Global()
	}
	return &StoreTier{store: store, logger: logger}
}

func (t *StoreTier) Name() string { return "store" }

func (t *StoreTier) Get(ctx context.Context, source, key string) ([]byte, bool) {
	payload, found, err := t.store.CacheGet(source, key)
	if err != nil {
		t.logger.Warn("durable cache read failed",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
		return nil, false
	}
	return payload, found
}

func (t *StoreTier) Put(ctx context.Context, source, key string, payload []byte, ttl time.Duration) {
	if err := t.store.CachePut(source, key, payload, ttl); err != nil {
		t.logger.Warn("durable cache write failed",
			logging.Field{Key: "source", Value: source}, logging.Err(err))
	}
}

var _ Tier = (*StoreTier)(nil)
