package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryConfig controls the in-process tier.
type MemoryConfig struct {
	MaxSize int           // entries before LRU eviction
	MaxTTL  time.Duration // cap on entry lifetime within this tier
}

// MemoryTier is a thread-safe LRU tier with per-entry TTL. It caps entry
// lifetimes at MaxTTL so a long source TTL does not pin stale data in a
// per-worker cache that other workers cannot invalidate.
type MemoryTier struct {
	config   MemoryConfig
	mu       sync.Mutex
	items    map[string]*memoryItem
	lruList  *list.List
	stopChan chan struct{}
	stopOnce sync.Once
}

type memoryItem struct {
	key       string
	payload   []byte
	expiresAt time.Time
	hitCount  int64
	element   *list.Element
}

// NewMemoryTier creates the in-process tier and starts its sweep goroutine.
func NewMemoryTier(config MemoryConfig) *MemoryTier {
	if config.MaxSize <= 0 {
		config.MaxSize = 10000
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = 10 * time.Minute
	}

	tier := &MemoryTier{
		config:   config,
		items:    make(map[string]*memoryItem),
		lruList:  list.New(),
		stopChan: make(chan struct{}),
	}

	go tier.sweep()

	return tier
}

func (t *MemoryTier) Name() string { return "memory" }

// Get returns the payload for source/key, treating expired entries as misses.
func (t *MemoryTier) Get(ctx context.Context, source, key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, exists := t.items[entryKey(source, key)]
	if !exists {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		t.removeItem(item)
		return nil, false
	}

	item.hitCount++
	t.lruList.MoveToFront(item.element)
	return item.payload, true
}

// Put stores the payload, capping the TTL at the tier's MaxTTL.
func (t *MemoryTier) Put(ctx context.Context, source, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > t.config.MaxTTL {
		ttl = t.config.MaxTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ek := entryKey(source, key)
	if existing, exists := t.items[ek]; exists {
		existing.payload = payload
		existing.expiresAt = time.Now().Add(ttl)
		t.lruList.MoveToFront(existing.element)
		return
	}

	item := &memoryItem{
		key:       ek,
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	}
	item.element = t.lruList.PushFront(item)
	t.items[ek] = item

	if t.lruList.Len() > t.config.MaxSize {
		t.evictLRU()
	}
}

// Size returns the current number of entries.
func (t *MemoryTier) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Stop shuts down the sweep goroutine.
func (t *MemoryTier) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
}

// removeItem deletes an item from both the map and the LRU list. Called with
// the lock held.
func (t *MemoryTier) removeItem(item *memoryItem) {
	delete(t.items, item.key)
	t.lruList.Remove(item.element)
}

// evictLRU drops the least recently used entry. Called with the lock held.
func (t *MemoryTier) evictLRU() {
	element := t.lruList.Back()
	if element == nil {
		return
	}
	t.removeItem(element.Value.(*memoryItem))
}

// sweep periodically reclaims expired entries so lazily-expired items do not
// occupy capacity forever.
func (t *MemoryTier) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweepExpired()
		case <-t.stopChan:
			return
		}
	}
}

func (t *MemoryTier) sweepExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var expired []*memoryItem
	for _, item := range t.items {
		if now.After(item.expiresAt) {
			expired = append(expired, item)
		}
	}
	for _, item := range expired {
		t.removeItem(item)
	}
}

func entryKey(source, key string) string {
	return source + ":" + key
}

var _ Tier = (*MemoryTier)(nil)
