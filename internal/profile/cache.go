package profile

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of cached profiles.
const DefaultCacheSize = 1024

// Cache wraps a Lookup with an in-memory TTL cache.
// Concurrent lookups for the same email are deduplicated via singleflight.
// Only found profiles are cached: misses and errors always go to the backend,
// so a profile created after a miss becomes visible on the next sign-in.
type Cache struct {
	backend Lookup
	lru     *expirable.LRU[string, *Record]
	sf      singleflight.Group
}

var _ Lookup = (*Cache)(nil)

// NewCache creates a cache that delegates to backend on miss.
func NewCache(backend Lookup, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		backend: backend,
		lru:     expirable.NewLRU[string, *Record](size, nil, ttl),
	}
}

// FindProfileByEmail returns the cached profile for the email, or fetches it
// from the backend if the entry is missing or expired. Callers receive their
// own copy of the record.
func (c *Cache) FindProfileByEmail(ctx context.Context, email string) (*Record, error) {
	if rec, ok := c.lru.Get(email); ok {
		return rec.Clone(), nil
	}

	result, err, _ := c.sf.Do(email, func() (any, error) {
		// Another caller may have populated the entry while we waited.
		if rec, ok := c.lru.Get(email); ok {
			return rec, nil
		}
		rec, err := c.backend.FindProfileByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			c.lru.Add(email, rec.Clone())
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record).Clone(), nil
}

// Invalidate drops the cached profile for email, if any.
func (c *Cache) Invalidate(email string) {
	c.lru.Remove(email)
}

// Len reports the number of cached profiles.
func (c *Cache) Len() int {
	return c.lru.Len()
}
