package enricher

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters tracks what the enricher has done since construction. All fields
// are updated atomically so Snapshot is safe to call mid-run.
type Counters struct {
	processed atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	errored   atomic.Int64
	fresh     atomic.Int64

	bulkCalls    atomic.Int64
	bulkFailures atomic.Int64

	mu          sync.RWMutex
	sourceCalls map[string]*atomic.Int64

	startedAt time.Time
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{
		sourceCalls: make(map[string]*atomic.Int64),
		startedAt:   time.Now(),
	}
}

func (c *Counters) addSourceCall(source string) {
	c.mu.RLock()
	counter, ok := c.sourceCalls[source]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		counter, ok = c.sourceCalls[source]
		if !ok {
			counter = &atomic.Int64{}
			c.sourceCalls[source] = counter
		}
		c.mu.Unlock()
	}
	counter.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Processed    int64            `json:"processed"`
	Created      int64            `json:"created"`
	Updated      int64            `json:"updated"`
	Errored      int64            `json:"errored"`
	Fresh        int64            `json:"fresh"`
	BulkCalls    int64            `json:"bulk_calls"`
	BulkFailures int64            `json:"bulk_failures"`
	SourceCalls  map[string]int64 `json:"source_calls"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Snapshot copies the counters. It is safe to call while a run is in flight;
// the copy is internally consistent per counter, not across counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.RLock()
	calls := make(map[string]int64, len(c.sourceCalls))
	for source, counter := range c.sourceCalls {
		calls[source] = counter.Load()
	}
	c.mu.RUnlock()

	return Snapshot{
		Processed:    c.processed.Load(),
		Created:      c.created.Load(),
		Updated:      c.updated.Load(),
		Errored:      c.errored.Load(),
		Fresh:        c.fresh.Load(),
		BulkCalls:    c.bulkCalls.Load(),
		BulkFailures: c.bulkFailures.Load(),
		SourceCalls:  calls,
		Elapsed:      time.Since(c.startedAt),
	}
}
