package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"neighbor-assist/pkg/cache"
	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/metrics"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Cache is a bounded, expiring key/value store.
//
// Capacity is enforced by least-recently-used eviction, where both reads
// and writes count as use. Every entry expires TTL after it was written;
// reads do not extend that lifetime. Expired entries are dropped lazily on
// access and by a periodic sweep.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *entry[V]]

	config  Config
	metrics metrics.Collector
	logger  *logging.Logger

	hits      int64
	misses    int64
	evictions int64
	expired   int64

	stopCleanup chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// entry is one stored value plus its bookkeeping.
type entry[V any] struct {
	value          V
	createdAt      time.Time
	lastAccessedAt time.Time
	hitCount       int64
}

// Config holds configuration for a bounded cache.
type Config struct {
	// Name identifies the cache in stats, logs and metrics
	Name string

	// MaxEntries is the hard capacity (default 1000)
	MaxEntries int

	// TTL is how long an entry lives after being written (default 1h)
	TTL time.Duration

	// CleanupInterval is how often the background sweep runs (default 1m).
	// A negative value disables the sweep.
	CleanupInterval time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time

	Metrics metrics.Collector
	Logger  *logging.Logger
}

// Stats is a point-in-time view of a cache's counters.
type Stats struct {
	Name          string  `json:"name"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Expired       int64   `json:"expired"`
	Size          int     `json:"size"`
	MaxEntries    int     `json:"maxEntries"`
	HitRate       float64 `json:"hitRate"`
	TotalRequests int64   `json:"totalRequests"`
}

// EntryInfo describes a live entry without exposing it for mutation.
type EntryInfo struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	HitCount       int64
}

// NewCache creates a bounded cache and starts its background sweep.
func NewCache[V any](config Config) (*Cache[V], error) {
	if config.MaxEntries < 0 {
		return nil, fmt.Errorf("%w: max entries must not be negative", cache.ErrInvalidValue)
	}
	if config.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", cache.ErrInvalidValue)
	}
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = 1000
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	lru, err := simplelru.NewLRU[string, *entry[V]](config.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("memory cache %s: %w", config.Name, err)
	}

	c := &Cache[V]{
		lru:         lru,
		config:      config,
		metrics:     metrics.OrNoOp(config.Metrics),
		logger:      config.Logger.Named("cache").Named(config.Name),
		stopCleanup: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(config.CleanupInterval)
	}

	return c, nil
}

// Name returns the cache name.
func (c *Cache[V]) Name() string {
	return c.config.Name
}

// Now returns the current time on the cache's clock.
func (c *Cache[V]) Now() time.Time {
	return c.config.Now()
}

// TTL returns the lifetime given to every entry.
func (c *Cache[V]) TTL() time.Duration {
	return c.config.TTL
}

// Get returns the value for key and marks it most recently used.
// An expired entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		c.misses++
		c.metrics.RecordCacheGet(c.config.Name, false)
		return zero, false
	}

	now := c.config.Now()
	if c.isExpired(e, now) {
		c.lru.Remove(key)
		c.misses++
		c.expired++
		c.metrics.RecordCacheGet(c.config.Name, false)
		c.metrics.RecordExpired(c.config.Name, 1)
		return zero, false
	}

	c.lru.Get(key)
	e.hitCount++
	e.lastAccessedAt = now
	c.hits++
	c.metrics.RecordCacheGet(c.config.Name, true)

	return e.value, true
}

// Set stores value under key as the most recently used entry. Overwriting
// an existing key restarts its lifetime. Inserting a new key into a full
// cache first evicts the least recently used entry.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithCreatedAt(key, value, c.config.Now())
}

// SetWithCreatedAt stores value as if it had been written at createdAt, so
// it expires TTL after that instant rather than TTL from now. A value that
// is already past its lifetime is not stored and false is returned.
func (c *Cache[V]) SetWithCreatedAt(key string, value V, createdAt time.Time) bool {
	now := c.config.Now()
	if createdAt.After(now) {
		createdAt = now
	}
	e := &entry[V]{
		value:          value,
		createdAt:      createdAt,
		lastAccessedAt: now,
	}
	if c.isExpired(e, now) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(key) {
		c.lru.Add(key, e)
		return true
	}

	if c.lru.Len() >= c.config.MaxEntries {
		if oldest, _, ok := c.lru.RemoveOldest(); ok {
			c.evictions++
			c.metrics.RecordEviction(c.config.Name)
			c.logger.Debug("evicted least recently used entry", zap.String("key", oldest))
		}
	}
	c.lru.Add(key, e)
	return true
}

// Has reports whether key holds a live entry without changing its recency.
// An expired entry is removed and counted as expired.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	if c.isExpired(e, c.config.Now()) {
		c.lru.Remove(key)
		c.expired++
		c.metrics.RecordExpired(c.config.Name, 1)
		return false
	}
	return true
}

// Info returns bookkeeping for a live entry without promoting it.
func (c *Cache[V]) Info(key string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok || c.isExpired(e, c.config.Now()) {
		return EntryInfo{}, false
	}
	return EntryInfo{
		CreatedAt:      e.createdAt,
		LastAccessedAt: e.lastAccessedAt,
		HitCount:       e.hitCount,
	}, true
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Remove(key)
}

// Clear removes every entry and resets all counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.hits, c.misses, c.evictions, c.expired = 0, 0, 0, 0
}

// ClearByPattern removes every key containing substr and returns how many
// were removed. An empty pattern removes nothing.
func (c *Cache[V]) ClearByPattern(substr string) int {
	if substr == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.Contains(key, substr) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.Now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && c.isExpired(e, now) {
			c.lru.Remove(key)
			removed++
		}
	}

	if removed > 0 {
		c.expired += int64(removed)
		c.metrics.RecordExpired(c.config.Name, removed)
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Keys returns stored keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Keys()
}

// Stats returns current cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return Stats{
		Name:          c.config.Name,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Expired:       c.expired,
		Size:          c.lru.Len(),
		MaxEntries:    c.config.MaxEntries,
		HitRate:       hitRate,
		TotalRequests: total,
	}
}

// Close stops the background sweep. The cache stays usable afterwards.
func (c *Cache[V]) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.wg.Wait()
	return nil
}

func (c *Cache[V]) isExpired(e *entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) > c.config.TTL
}

// cleanupLoop runs in a background goroutine to remove expired entries.
func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.Cleanup(); removed > 0 {
				c.logger.Debug("swept expired entries", zap.Int("removed", removed))
			}
		case <-c.stopCleanup:
			return
		}
	}
}
