package broker

import (
	"sync"
	"time"

	"github.com/veilbox/veil/internal/backend"
)

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// cache is the resolver's bounded, time-limited value cache. Entries
// are stored and returned as copies so callers can Zero their buffers
// without tearing the cache, and cache wipes don't tear callers.
// A zero TTL disables caching entirely.
type cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *cache) get(name string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[name]
	if ok && !time.Now().After(entry.expires) {
		// Copy while still holding the lock: invalidate and put wipe
		// the backing array under the write lock.
		out := make([]byte, len(entry.value))
		copy(out, entry.value)
		c.mu.RUnlock()
		return out, true
	}
	c.mu.RUnlock()

	if ok {
		c.invalidate(name)
	}
	return nil, false
}

func (c *cache) put(name string, value []byte) {
	if c.ttl <= 0 {
		return
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	if old, ok := c.entries[name]; ok {
		backend.Zero(old.value)
	}
	c.entries[name] = cacheEntry{value: stored, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *cache) invalidate(name string) {
	c.mu.Lock()
	if entry, ok := c.entries[name]; ok {
		backend.Zero(entry.value)
		delete(c.entries, name)
	}
	c.mu.Unlock()
}

func (c *cache) purge() {
	c.mu.Lock()
	for name, entry := range c.entries {
		backend.Zero(entry.value)
		delete(c.entries, name)
	}
	c.mu.Unlock()
}
