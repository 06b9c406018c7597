// Package fingerprint caches full audit results keyed by a deterministic
// fingerprint of the rule set and intent.
//
// Entries expire lazily: an expired entry is removed by the Get that finds it
// or by Sweep. When the cache is full, a write of a new key first evicts the
// oldest entries by creation time. Reads never refresh an entry.
package fingerprint

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/metrics"
)

const cacheName = "fingerprint"

// Defaults.
const (
	DefaultMaxSize      = 1000
	DefaultTTL          = 24 * time.Hour
	DefaultKeepFraction = 0.8
)

// Config sizes the cache. Zero values take the defaults.
type Config struct {
	MaxSize      int
	TTL          time.Duration
	KeepFraction float64
}

func (c *Config) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.KeepFraction <= 0 || c.KeepFraction >= 1 {
		c.KeepFraction = DefaultKeepFraction
	}
}

type entry struct {
	key       string
	payload   domain.Payload
	createdAt time.Time
	sizeBytes int
}

// Cache is a bounded TTL map of audit results. Safe for concurrent use.
type Cache struct {
	cfg    Config
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.clock = now
		}
	}
}

// New creates an empty cache.
func New(cfg Config, opts ...Option) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		cfg:     cfg,
		clock:   time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the payload stored under key when it is younger than the TTL.
func (c *Cache) Get(key string) (domain.Payload, bool) {
	now := c.clock()

	c.mu.RLock()
	e, ok := c.entries[key]
	if ok && !c.expired(e, now) {
		p := e.payload
		c.mu.RUnlock()
		c.hits.Add(1)
		metrics.CacheRequestsTotal.WithLabelValues(cacheName, "hit").Inc()
		c.logger.Debug("fingerprint cache hit", zap.String("key", short(key)))
		return p, true
	}
	c.mu.RUnlock()

	c.misses.Add(1)
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues(cacheName, "miss").Inc()
		return domain.Payload{}, false
	}

	// Another writer may have replaced the entry since the read lock was released.
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.expired(e, now) {
		delete(c.entries, key)
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheRequestsTotal.WithLabelValues(cacheName, "expired").Inc()
	metrics.CacheEntries.WithLabelValues(cacheName).Set(float64(n))
	c.logger.Debug("fingerprint cache entry expired", zap.String("key", short(key)))
	return domain.Payload{}, false
}

// Set stores payload under key with a fresh timestamp. A full cache evicts its
// oldest entries first, including when key is already present.
func (c *Cache) Set(key string, payload domain.Payload) {
	size, ok := payload.SizeBytes()
	if !ok {
		size = domain.DefaultSizeEstimate
		c.logger.Debug("payload size unknown, using default estimate", zap.String("key", short(key)))
	}

	c.mu.Lock()
	evicted := 0
	if len(c.entries) >= c.cfg.MaxSize {
		evicted = c.evictLocked()
	}
	c.entries[key] = &entry{key: key, payload: payload, createdAt: c.clock(), sizeBytes: size}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(cacheName).Set(float64(n))
	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		metrics.CacheEvictionsTotal.WithLabelValues(cacheName).Add(float64(evicted))
		c.logger.Info("evicted old fingerprint cache entries", zap.Int("evicted", evicted), zap.Int("entries", n))
	}
}

// evictLocked keeps the newest floor(KeepFraction*count) entries.
func (c *Cache) evictLocked() int {
	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	slices.SortFunc(all, func(a, b *entry) int {
		if d := a.createdAt.Compare(b.createdAt); d != 0 {
			return d
		}
		return strings.Compare(a.key, b.key)
	})

	keep := int(c.cfg.KeepFraction * float64(len(all)))
	remove := all[:len(all)-keep]
	for _, e := range remove {
		delete(c.entries, e.key)
	}
	return len(remove)
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock()
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEntries.WithLabelValues(cacheName).Set(float64(n))
		c.logger.Debug("swept expired fingerprint cache entries", zap.Int("removed", removed))
	}
	return removed
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(cacheName).Set(0)
	c.logger.Info("fingerprint cache cleared", zap.Int("entries", n))
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	Entries        int           `json:"entries"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	TotalSizeMB    float64       `json:"total_size_mb"`
	MaxSize        int           `json:"max_size"`
	UtilizationPct float64       `json:"utilization_percent"`
	OldestEntryAge time.Duration `json:"oldest_entry_age_ns"`
	OldestEntryAt  *time.Time    `json:"oldest_entry,omitempty"`
	TTL            time.Duration `json:"ttl_ns"`
	TTLHours       float64       `json:"ttl_hours"`
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	Evictions      int64         `json:"evictions"`
}

// Stats reports size, age and hit counters. Expired entries not yet removed are counted.
func (c *Cache) Stats() Stats {
	now := c.clock()
	c.mu.RLock()
	st := Stats{
		Entries: len(c.entries),
		MaxSize: c.cfg.MaxSize,
		TTL:     c.cfg.TTL,
	}
	var oldest time.Time
	for _, e := range c.entries {
		st.TotalSizeBytes += int64(e.sizeBytes)
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
	}
	c.mu.RUnlock()

	st.TotalSizeMB = float64(st.TotalSizeBytes) / (1 << 20)
	st.UtilizationPct = float64(st.Entries) / float64(st.MaxSize) * 100
	st.TTLHours = st.TTL.Hours()
	if !oldest.IsZero() {
		st.OldestEntryAt = &oldest
		st.OldestEntryAge = now.Sub(oldest)
	}
	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	st.Evictions = c.evictions.Load()
	return st
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.createdAt) > c.cfg.TTL
}

func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
