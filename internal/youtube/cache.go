package youtube

import (
	"sync"
	"time"

	"livenotify/internal/model"
)

type cacheEntry struct {
	md        model.Metadata
	fetchedAt time.Time
}

// Cache holds the last fetched payload per video. Entries older than the
// TTL are treated as absent and dropped on lookup.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached payload for id if it is still fresh.
func (c *Cache) Get(id string) (model.Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return model.Metadata{}, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		delete(c.entries, id)
		return model.Metadata{}, false
	}
	return e.md, true
}

// Put stores md under its video ID.
func (c *Cache) Put(md model.Metadata) {
	c.mu.Lock()
	c.entries[md.VideoID] = cacheEntry{md: md, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
