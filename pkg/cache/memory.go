// Package cache provides the default in-process implementation of the
// core.Cache port: a bounded TTL map with atomic counters.
package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfreitas/gatehouse/core"
)

// Stats are simple counters for cache behavior, intended for diagnostics
// and monitoring.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Memory implements core.Cache over a mutex-guarded map. Entries carry
// their own expiry so lockout counters, lock records and hot user entries
// can each use a different TTL.
type Memory struct {
	entries map[string]*entry
	mu      sync.Mutex
	maxSize int

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

var _ core.Cache = (*Memory)(nil)

// New creates an in-memory cache. MaxSize bounds the entry count; zero
// means the default of 500.
func New(c core.CacheConfig) *Memory {
	if c.MaxSize == 0 {
		c.MaxSize = 500
	}

	return &Memory{
		entries: make(map[string]*entry),
		maxSize: c.MaxSize,
	}
}

// Get retrieves a value; expired or absent keys return core.ErrCacheMiss.
func (c *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists || e.expired(time.Now()) {
		if exists {
			delete(c.entries, key)
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, core.ErrCacheMiss
	}

	atomic.AddInt64(&c.hits, 1)
	return e.value, nil
}

// Set stores a value under key for ttl; ttl <= 0 keeps the value until
// evicted.
func (c *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()
	c.entries[key] = &entry{value: value, expiresAt: expiry(ttl)}
	atomic.AddInt64(&c.sets, 1)
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.entries[key]; existed {
		delete(c.entries, key)
		atomic.AddInt64(&c.deletes, 1)
	}
	return nil
}

// Increment adds one to the counter at key under the cache lock, so
// concurrent callers each observe a distinct value. The TTL is refreshed
// on every call.
func (c *Memory) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, exists := c.entries[key]; exists && !e.expired(time.Now()) {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++

	c.evictLocked()
	c.entries[key] = &entry{
		value:     []byte(strconv.FormatInt(n, 10)),
		expiresAt: expiry(ttl),
	}
	return n, nil
}

// Decrement subtracts one from the counter at key, flooring at zero and
// preserving the remaining TTL.
func (c *Memory) Decrement(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists || e.expired(time.Now()) {
		return 0, nil
	}

	n, _ := strconv.ParseInt(string(e.value), 10, 64)
	if n > 0 {
		n--
	}
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// Len reports the current entry count, including not-yet-swept expired
// entries.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the behavior counters.
func (c *Memory) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
	}
}

// evictLocked makes room when the cache is full: expired entries first,
// then an arbitrary one. Callers must hold the lock.
func (c *Memory) evictLocked() {
	if len(c.entries) < c.maxSize {
		return
	}

	now := time.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			atomic.AddInt64(&c.evictions, 1)
			if len(c.entries) < c.maxSize {
				return
			}
		}
	}

	for k := range c.entries {
		delete(c.entries, k)
		atomic.AddInt64(&c.evictions, 1)
		return
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
