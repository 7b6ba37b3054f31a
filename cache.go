package db

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Cache is the interface for caching query results. Implement it with
// your preferred backend; MemoryCache is a process-local implementation.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// queryCache serializes fetched result sets into a Cache with msgpack,
// keyed by table and rendered SQL, and dedupes concurrent identical reads
// with singleflight. Mutations invalidate by table prefix.
type queryCache struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

func newQueryCache(c Cache, ttl time.Duration) *queryCache {
	return &queryCache{cache: c, ttl: ttl}
}

func cacheKey(table, query string) string {
	return table + ":" + query
}

func (qc *queryCache) fetch(ctx context.Context, table, query string, run func(context.Context) (*Rows, error)) (*Rows, error) {
	key := cacheKey(table, query)
	v, err, _ := qc.group.Do(key, func() (any, error) {
		if encoded, err := qc.cache.Get(ctx, key); err == nil && encoded != nil {
			var rs Rows
			if err := msgpack.Unmarshal(encoded, &rs); err == nil {
				return &rs, nil
			}
			// A stale or foreign payload falls through to a fresh read.
		}
		rs, err := run(ctx)
		if err != nil {
			return nil, err
		}
		if encoded, err := msgpack.Marshal(rs); err == nil {
			_ = qc.cache.Set(ctx, key, encoded, qc.ttl)
		}
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Rows), nil
}

func (qc *queryCache) invalidate(ctx context.Context, table string) {
	_ = qc.cache.DeletePrefix(ctx, table+":")
}

// MemoryCache is a process-local Cache with per-entry TTL. It is safe for
// concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return e.value, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
