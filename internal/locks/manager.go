// Package locks coordinates scheduled maintenance across enrichment workers
// through Redis. Only one worker at a time may run a scheduled batch or a
// durable-cache sweep; the others skip the cycle.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threat-enricher/internal/common/logging"
)

// RedisLockClient is the slice of the Redis client the manager needs.
type RedisLockClient interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	ExtendLock(ctx context.Context, key string, expiration time.Duration) error
}

// Manager hands out distributed locks backed by Redis SetNX and renews held
// locks in the background so long-running batch runs do not lose them.
// Safe for concurrent use.
type Manager struct {
	redis  RedisLockClient
	logger logging.Logger

	mu   sync.Mutex
	held map[string]*heldLock
}

type heldLock struct {
	key        string
	expiration time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewManager creates a lock manager over the given Redis client.
func NewManager(redisClient RedisLockClient, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Global()
	}
	return &Manager{
		redis:  redisClient,
		logger: logger,
		held:   make(map[string]*heldLock),
	}
}

// Acquire takes the named lock, or reports false when another worker holds
// it. A held lock is renewed at a third of its expiration until released.
func (m *Manager) Acquire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	acquired, err := m.redis.AcquireLock(ctx, key, expiration)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	lock := &heldLock{
		key:        key,
		expiration: expiration,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.held[key] = lock
	m.mu.Unlock()

	go m.renew(renewCtx, lock)
	return true, nil
}

// Release gives the lock back. Safe to call for a lock this worker does not
// hold.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	lock, ok := m.held[key]
	if ok {
		delete(m.held, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	lock.cancel()
	<-lock.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.redis.ReleaseLock(ctx, key); err != nil {
		m.logger.Warn("failed to release lock",
			logging.Field{Key: "key", Value: key}, logging.Err(err))
	}
}

// WithLock runs fn while holding the named lock, skipping the call when the
// lock is held elsewhere. Scheduled jobs use this as their entry point.
func (m *Manager) WithLock(ctx context.Context, key string, expiration time.Duration, fn func(context.Context)) error {
	acquired, err := m.Acquire(ctx, key, expiration)
	if err != nil {
		return err
	}
	if !acquired {
		m.logger.Debug("lock held elsewhere, skipping",
			logging.Field{Key: "key", Value: key})
		return nil
	}
	defer m.Release(key)

	fn(ctx)
	return nil
}

func (m *Manager) renew(ctx context.Context, lock *heldLock) {
	defer close(lock.done)

	interval := lock.expiration / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := m.redis.ExtendLock(extendCtx, lock.key, lock.expiration)
			cancel()
			if err != nil {
				// The lock expired or Redis is gone; stop pretending to hold it.
				m.logger.Warn("lock renewal failed",
					logging.Field{Key: "key", Value: lock.key}, logging.Err(err))
				m.mu.Lock()
				delete(m.held, lock.key)
				m.mu.Unlock()
				return
			}
		}
	}
}

// Close cancels renewal for every held lock. Locks expire naturally in Redis.
func (m *Manager) Close() error {
	m.mu.Lock()
	locks := make([]*heldLock, 0, len(m.held))
	for _, lock := range m.held {
		locks = append(locks, lock)
	}
	m.held = make(map[string]*heldLock)
	m.mu.Unlock()

	for _, lock := range locks {
		lock.cancel()
		<-lock.done
	}
	return nil
}
