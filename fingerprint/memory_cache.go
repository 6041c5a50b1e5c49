package fingerprint

import (
	"context"
	"sync"
	"time"

	"github.com/erasmus-project/esrp/protocol"
)

type memoryEntry struct {
	resp      *protocol.Response
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for single-server deployments and
// tests, backed by a mutex-guarded map with a background sweep goroutine —
// the same shape as the registries used elsewhere in this codebase for
// bounded-lifetime in-memory state.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewMemoryCache constructs a MemoryCache. When sweepInterval is positive it
// starts a background sweep that evicts expired entries every
// sweepInterval; otherwise no sweep runs and expired entries are dropped
// only when Get encounters them. Callers must call Stop() when the cache is
// no longer needed to release the goroutine.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:   make(map[string]memoryEntry),
		stopSweep: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Stop terminates the background sweep goroutine. Safe to call multiple
// times.
func (c *MemoryCache) Stop() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *MemoryCache) Get(_ context.Context, key string) (*protocol.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.resp.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, resp *protocol.Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && time.Now().Before(existing.expiresAt) {
		return nil // first writer wins
	}
	c.entries[key] = memoryEntry{
		resp:      resp.Clone(),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

var _ Cache = (*MemoryCache)(nil)
