// Package cache implements the short-TTL serving cache that fronts online
// feature lookups. Entries are snapshots of the latest record per
// (view, company) key, invalidated explicitly on write and implicitly on TTL
// expiry. Historical results are never cached.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/synapselabs/partnermatch/core"
)

const (
	defaultTTL             = 5 * time.Minute
	defaultMaxEntries      = 10000
	defaultCleanupInterval = 1 * time.Minute
)

type entry struct {
	record     core.FeatureRecord
	insertedAt time.Time
	lastAccess time.Time
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// MemoryCache is an in-process TTL cache with LRU eviction. Entries are
// immutable once written: records are deep-copied on Set and on Get, so no
// reader ever observes a half-updated value.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	hits       uint64
	misses     uint64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates a memory cache. Zero ttl or maxEntries fall back to
// defaults. A background goroutine sweeps expired entries until Close.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &MemoryCache{
		entries:     make(map[string]*entry),
		ttl:         ttl,
		maxEntries:  maxEntries,
		stopCleanup: make(chan struct{}),
	}
	c.cleanupTicker = time.NewTicker(defaultCleanupInterval)
	go c.cleanup()
	return c
}

func cacheKey(view, companyID string) string {
	return view + "/" + companyID
}

// Get returns a copy of the cached record, if present and unexpired.
func (c *MemoryCache) Get(ctx context.Context, view, companyID string) (core.FeatureRecord, bool) {
	key := cacheKey(view, companyID)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || now.Sub(e.insertedAt) > c.ttl {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return core.FeatureRecord{}, false
	}
	e.lastAccess = now
	c.hits++
	return e.record.Clone(), true
}

// Set stores a snapshot of the record under its (view, company) key.
func (c *MemoryCache) Set(ctx context.Context, record core.FeatureRecord) {
	key := cacheKey(record.FeatureView, record.CompanyID)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		record:     record.Clone(),
		insertedAt: now,
		lastAccess: now,
	}
}

// Invalidate drops the entry for a key. Called by the write path so a read
// immediately after a write never returns the pre-write value.
func (c *MemoryCache) Invalidate(ctx context.Context, view, companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(view, companyID))
}

// Stats returns hit/miss counters and the current entry count.
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

// evictOldest removes the least recently accessed entry. Caller holds the lock.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAccess time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *MemoryCache) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.sweepExpired()
		case <-c.stopCleanup:
			c.cleanupTicker.Stop()
			return
		}
	}
}

func (c *MemoryCache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}
