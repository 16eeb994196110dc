// Package cache provides a thread-safe LRU cache with per-entry expiry.
package cache

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Metrics tracks cache statistics.
type Metrics struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total) * 100
}

// Config holds configuration for the LRU cache.
type Config struct {
	Name       string        // used in log records
	MaxEntries int           // 0 = unlimited
	DefaultTTL time.Duration // TTL applied by Set
	Logger     *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		DefaultTTL: 5 * time.Minute,
		Logger:     slog.Default(),
	}
}

// LRU is a least-recently-used cache whose entries also expire after a TTL.
type LRU[V any] struct {
	config  Config
	items   map[string]*list.Element
	order   *list.List
	mu      sync.Mutex
	metrics Metrics
}

// New creates an LRU cache.
func New[V any](config Config) *LRU[V] {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Name == "" {
		config.Name = "lru"
	}

	return &LRU[V]{
		config: config,
		items:  make(map[string]*list.Element),
		order:  list.New(),
	}
}

// Get returns the value for key if present and not expired.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.metrics.Misses++
		return zero, false
	}

	e := elem.Value.(*entry[V])
	if !c.config.Now().Before(e.expiresAt) {
		c.removeLocked(elem)
		c.metrics.Misses++
		c.metrics.Expirations++
		c.config.Logger.Debug("cache miss (expired)",
			slog.String("cache", c.config.Name),
			slog.String("key", key),
		)
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.metrics.Hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *LRU[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key with a specific TTL.
func (c *LRU[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.config.Now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.config.MaxEntries > 0 && c.order.Len() >= c.config.MaxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.metrics.Evictions++
			c.config.Logger.Debug("cache eviction (LRU)",
				slog.String("cache", c.config.Name),
				slog.String("key", oldest.Value.(*entry[V]).key),
			)
		}
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete removes key and reports whether it was present.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// DeletePrefix removes every key that starts with prefix and returns how many were dropped.
func (c *LRU[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(elem)
			count++
		}
	}
	return count
}

// Cleanup removes all expired entries and returns how many were dropped.
func (c *LRU[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.Now()
	count := 0
	for _, elem := range c.items {
		if !now.Before(elem.Value.(*entry[V]).expiresAt) {
			c.removeLocked(elem)
			c.metrics.Expirations++
			count++
		}
	}
	return count
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// Size returns the number of entries, expired or not.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Metrics returns a copy of the current cache metrics.
func (c *LRU[V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Must be called with lock held.
func (c *LRU[V]) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*entry[V]).key)
	c.order.Remove(elem)
}
