package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCacheCapacity bounds the number of cached embeddings.
	DefaultCacheCapacity = 4096

	// DefaultCacheTTL bounds how long a cached embedding is served.
	DefaultCacheTTL = time.Hour
)

type cacheEntry struct {
	vector   []float32
	storedAt time.Time
}

// Cached wraps an Embedder with a content-hash keyed cache, TTL-based and
// capacity-bounded. Query texts repeat heavily across retrieval iterations,
// so the cache turns most embedding round trips into map lookups.
type Cached struct {
	inner    Embedder
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry

	// order tracks insertion for eviction: oldest first.
	order []string
}

// NewCached wraps inner with a cache. Zero capacity or ttl use the
// defaults.
func NewCached(inner Embedder, capacity int, ttl time.Duration) *Cached {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner:    inner,
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector when fresh, otherwise delegates to the
// wrapped embedder and caches the result.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if time.Since(entry.storedAt) < c.ttl {
			vec := make([]float32, len(entry.vector))
			copy(vec, entry.vector)
			c.mu.Unlock()
			return vec, nil
		}
		delete(c.entries, key)
		c.removeOrderLocked(key)
	}
	c.mu.Unlock()

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.entries[key]; !ok {
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.entries[key] = &cacheEntry{vector: stored, storedAt: time.Now()}
	c.mu.Unlock()

	return vector, nil
}

// removeOrderLocked drops key from the insertion order. Keeping order and
// entries in lockstep is what makes eviction strictly oldest-first: a key
// refreshed after TTL expiry must not keep its stale front slot.
func (c *Cached) removeOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cached) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

// Model returns the wrapped embedder's model identifier.
func (c *Cached) Model() string {
	return c.inner.Model()
}

// Close releases the wrapped embedder's resources.
func (c *Cached) Close() error {
	return c.inner.Close()
}

var _ Embedder = (*Cached)(nil)
