package apicache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// MemoryCache is a bounded in-process cache with TTL expiry and
// approximate-LRU eviction. It is safe for concurrent use within one
// process; separate processes see separate stores.
//
// Three parallel maps hold the value, the last-access timestamp and the
// expiry deadline for each key. Every operation runs under one mutex so the
// maps are never observed in a mutually inconsistent state.
type MemoryCache struct {
	ttl     time.Duration
	maxSize int

	mu     sync.Mutex
	values map[string]any
	access map[string]time.Time
	expiry map[string]time.Time

	stats  Stats
	logger *log.Logger
}

// NewMemoryCache creates a memory cache. Zero cfg fields fall back to
// DefaultTTL and DefaultMaxSize.
func NewMemoryCache(cfg Config) *MemoryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}

	c := &MemoryCache{
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		values:  make(map[string]any),
		access:  make(map[string]time.Time),
		expiry:  make(map[string]time.Time),
		logger:  log.WithPrefix("cache.memory"),
	}

	c.logger.Debug("memory cache initialized", "ttl", cfg.TTL, "maxSize", cfg.MaxSize)
	return c
}

// Set stores value under key. A ttl <= 0 means the cache-wide default.
// Storing may evict expired entries and, past the size bound, the least
// recently accessed ones.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
	c.access[key] = now
	c.expiry[key] = now.Add(ttl)

	c.clean(now)
	return true
}

// Get returns the live value for key. A hit refreshes the key's last-access
// timestamp so frequently read entries survive eviction longer.
func (c *MemoryCache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(key, now) {
		c.stats.Misses++
		return nil, false
	}

	c.access[key] = now
	c.stats.Hits++
	return c.values[key], true
}

// Has reports whether a live entry exists for key. An entry found to be
// expired is removed on the spot.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.liveLocked(key, time.Now())
}

// Delete removes the entry for key, reporting whether anything was removed.
func (c *MemoryCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.removeLocked(key)
}

// Clear removes every entry.
func (c *MemoryCache) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = make(map[string]any)
	c.access = make(map[string]time.Time)
	c.expiry = make(map[string]time.Time)

	c.logger.Debug("cleared all entries")
	return true
}

// InvalidateByPrefix removes every entry whose key starts with prefix and
// returns the number removed.
func (c *MemoryCache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		c.removeLocked(key)
	}

	return len(matched)
}

// Entries returns a snapshot of the stored entries. Size and CreatedAt are
// zero: the backend stores arbitrary values and does not track creation
// separately from access.
func (c *MemoryCache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]EntryInfo, 0, len(c.values))
	for key := range c.values {
		entries = append(entries, EntryInfo{
			Key:       key,
			ExpiresAt: c.expiry[key],
		})
	}
	return entries
}

// Stats returns the instance's performance counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.ItemCount = int64(len(c.values))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// liveLocked reports whether key holds a live entry, removing it when it
// turns out to be expired (must be called with the lock held).
func (c *MemoryCache) liveLocked(key string, now time.Time) bool {
	expiresAt, ok := c.expiry[key]
	if !ok {
		return false
	}
	if now.After(expiresAt) {
		c.removeLocked(key)
		c.stats.Expired++
		c.logger.Debug("entry expired", "key", key)
		return false
	}
	return true
}

// removeLocked drops key from all three maps, or from none (must be called
// with the lock held).
func (c *MemoryCache) removeLocked(key string) bool {
	if _, ok := c.values[key]; !ok {
		return false
	}
	delete(c.values, key)
	delete(c.access, key)
	delete(c.expiry, key)
	return true
}

// clean sweeps expired entries and then trims the cache back to maxSize by
// removing the least recently accessed keys, oldest first with ties broken
// by key (must be called with the lock held).
func (c *MemoryCache) clean(now time.Time) {
	for key, expiresAt := range c.expiry {
		if now.After(expiresAt) {
			c.removeLocked(key)
			c.stats.Expired++
		}
	}

	over := len(c.values) - c.maxSize
	if over <= 0 {
		return
	}

	keys := make([]string, 0, len(c.access))
	for key := range c.access {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := c.access[keys[i]], c.access[keys[j]]
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.Before(tj)
	})

	for _, key := range keys[:over] {
		c.removeLocked(key)
		c.stats.Evictions++
	}
	c.logger.Debug("evicted oldest entries", "count", over)
}
