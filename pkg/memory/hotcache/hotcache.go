// Package hotcache provides a bounded in-process cache of each user's
// highest-priority memory records.
//
// The cache is a read replica: the tiered store remains the source of truth
// and every write path invalidates the corresponding entry. Entries expire
// lazily on read and proactively via a background sweep, and the global
// entry count is bounded with least-recently-accessed eviction.
package hotcache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
)

const (
	// DefaultPerUserMax caps records held per user.
	DefaultPerUserMax = 20

	// DefaultMaxUsers caps cached user entries globally.
	DefaultMaxUsers = 1000

	// DefaultTTL bounds how long an entry is served without a reload.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often the background sweep evicts
	// TTL-expired entries.
	DefaultSweepInterval = time.Minute
)

// Config holds configuration for the hot cache.
type Config struct {
	// PerUserMax caps records per user entry. Defaults to DefaultPerUserMax.
	PerUserMax int

	// MaxUsers caps cached user entries. Defaults to DefaultMaxUsers.
	MaxUsers int

	// TTL bounds entry freshness. Defaults to DefaultTTL.
	TTL time.Duration

	// SweepInterval is the background sweep cadence. Defaults to
	// DefaultSweepInterval.
	SweepInterval time.Duration
}

type entry struct {
	records        []*memory.Record
	loadedAt       time.Time
	lastAccessedAt time.Time
	accessCount    int
}

// Cache is a bounded per-user snapshot cache with LRU+TTL eviction.
type Cache struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	done chan struct{}
}

// NewCache creates a hot cache. Call Start to run the background sweep.
func NewCache(config Config, logger *zap.Logger) *Cache {
	if config.PerUserMax <= 0 {
		config.PerUserMax = DefaultPerUserMax
	}
	if config.MaxUsers <= 0 {
		config.MaxUsers = DefaultMaxUsers
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &Cache{
		config:  config,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Start launches the background sweep goroutine.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.sweepLoop(c.stop, c.done)
}

// Stop terminates the background sweep and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (c *Cache) sweepLoop(stop chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep evicts TTL-expired entries so a bursty user doesn't leave stale
// memory resident indefinitely. The scan is bounded by MaxUsers.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0
	for userID, e := range c.entries {
		if now.Sub(e.loadedAt) > c.config.TTL {
			delete(c.entries, userID)
			evicted++
		}
	}
	if evicted > 0 {
		c.logger.Debug("hot cache sweep", zap.Int("evicted", evicted))
	}
}

func sortByPriority(records []*memory.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority() > records[j].Priority()
	})
}

// Load replaces the user's entry with snapshots of the given records,
// sorted by priority and truncated to the per-user cap. When the global
// cap is reached and this user is not already cached, the
// least-recently-accessed entry is evicted.
func (c *Cache) Load(userID string, records []*memory.Record) {
	snapshots := make([]*memory.Record, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, rec.Clone())
	}
	sortByPriority(snapshots)
	if len(snapshots) > c.config.PerUserMax {
		snapshots = snapshots[:c.config.PerUserMax]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, cached := c.entries[userID]; !cached && len(c.entries) >= c.config.MaxUsers {
		c.evictLRULocked()
	}

	now := time.Now()
	c.entries[userID] = &entry{
		records:        snapshots,
		loadedAt:       now,
		lastAccessedAt: now,
	}
}

func (c *Cache) evictLRULocked() {
	var oldestUser string
	var oldestTime time.Time
	for userID, e := range c.entries {
		if oldestUser == "" || e.lastAccessedAt.Before(oldestTime) {
			oldestUser = userID
			oldestTime = e.lastAccessedAt
		}
	}
	if oldestUser != "" {
		delete(c.entries, oldestUser)
		c.logger.Debug("hot cache evicted LRU entry", zap.String("user_id", oldestUser))
	}
}

// Get returns the user's cached records. The second return is false on a
// miss: entry absent or past TTL (expiry is checked on read, not just by
// the sweep).
func (c *Cache) Get(userID string) ([]*memory.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if time.Since(e.loadedAt) > c.config.TTL {
		delete(c.entries, userID)
		return nil, false
	}

	e.lastAccessedAt = time.Now()
	e.accessCount++

	out := make([]*memory.Record, len(e.records))
	for i, rec := range e.records {
		out[i] = rec.Clone()
	}
	return out, true
}

// Invalidate drops the user's entry.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Add inserts a record into the user's entry, keeping it sorted and
// bounded. A no-op when the user is not cached; the next Get will reload
// from the store anyway.
func (c *Cache) Add(userID string, rec *memory.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return
	}
	e.records = append(e.records, rec.Clone())
	sortByPriority(e.records)
	if len(e.records) > c.config.PerUserMax {
		e.records = e.records[:c.config.PerUserMax]
	}
}

// Update replaces the cached snapshot with the given record's id, re-sorting
// the slice. A no-op when the user or record is not cached.
func (c *Cache) Update(userID string, rec *memory.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return
	}
	for i, cached := range e.records {
		if cached.ID == rec.ID {
			e.records[i] = rec.Clone()
			sortByPriority(e.records)
			return
		}
	}
}

// Remove drops a record from the user's entry.
func (c *Cache) Remove(userID string, recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return
	}
	for i, cached := range e.records {
		if cached.ID == recordID {
			e.records = append(e.records[:i], e.records[i+1:]...)
			return
		}
	}
}

// Len returns the number of cached user entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
