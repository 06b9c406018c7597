// Package semantic caches fix recommendations and retrieves them by meaning.
//
// Entry i, vector row i and index item i always describe the same entry.
// Every mutation changes all three under the write lock and then verifies
// their lengths; eviction removes entries and rebuilds the index from the
// stored rows without calling the embedder.
package semantic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	"github.com/kailas-cloud/fwcache/internal/vector"
)

const cacheName = "semantic"

// Defaults.
const (
	DefaultMaxEntries   = 5000
	DefaultThreshold    = 0.85
	DefaultTopK         = 5
	DefaultKeepFraction = 0.9
	DefaultPinnedUsage  = 100
)

// Config tunes the cache. Zero values take the defaults.
type Config struct {
	MaxEntries   int
	Threshold    float32
	TopK         int
	KeepFraction float64
	PinnedUsage  int64
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.KeepFraction <= 0 || c.KeepFraction >= 1 {
		c.KeepFraction = DefaultKeepFraction
	}
	if c.PinnedUsage <= 0 {
		c.PinnedUsage = DefaultPinnedUsage
	}
}

type entry struct {
	key             string
	text            string
	recommendations []domain.Payload
	createdAt       time.Time
	usage           atomic.Int64
	pinned          bool
}

// Cache is a vector-indexed store of recommendations. Safe for concurrent use.
type Cache struct {
	embedder Embedder
	cfg      Config
	model    string
	clock    func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	entries []*entry
	rows    [][]float32
	index   *vector.Flat
	byKey   map[string]*entry

	evictions atomic.Int64
	rebuilds  atomic.Int64
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

// WithModel records the embedding model name for stats.
func WithModel(model string) Option {
	return func(c *Cache) { c.model = model }
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
func New(embedder Embedder, cfg Config, opts ...Option) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		embedder: embedder,
		cfg:      cfg,
		clock:    time.Now,
		logger:   zap.NewNop(),
		byKey:    make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the recommendations of the closest entry scoring at least
// threshold (the configured default when threshold <= 0) among the top K
// neighbors of queryText. A hit increments that entry's usage count.
// Embedding failures and an empty cache are misses.
func (c *Cache) Get(ctx context.Context, queryText string, threshold float32) ([]domain.Payload, bool) {
	if threshold <= 0 {
		threshold = c.cfg.Threshold
	}
	if c.Len() == 0 {
		metrics.CacheRequestsTotal.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}

	res, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		c.logger.Warn("semantic lookup embedding failed", zap.Error(err))
		metrics.CacheRequestsTotal.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}

	c.mu.RLock()
	var recs []domain.Payload
	var score float32
	found := false
	if c.index != nil {
		hits, err := c.index.Search(res.Embedding, c.cfg.TopK)
		if err != nil {
			c.logger.Warn("semantic lookup failed", zap.Error(err))
		}
		for _, h := range hits {
			if h.Score < threshold {
				continue
			}
			e := c.entries[h.Row]
			e.usage.Add(1)
			recs, score, found = slices.Clone(e.recommendations), h.Score, true
			break
		}
	}
	c.mu.RUnlock()

	if !found {
		metrics.CacheRequestsTotal.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}
	metrics.CacheRequestsTotal.WithLabelValues(cacheName, "hit").Inc()
	c.logger.Debug("semantic cache hit", zap.Float32("score", score))
	return recs, true
}

// Set embeds key.Text and stores recommendations under key.Hash. Writing an
// existing hash replaces its recommendations in place. Exceeding MaxEntries
// triggers eviction. On embedding failure nothing changes.
func (c *Cache) Set(ctx context.Context, key Key, recommendations []domain.Payload) error {
	if strings.TrimSpace(key.Text) == "" {
		return fmt.Errorf("set semantic entry: %w", domain.ErrEmptyContent)
	}

	c.mu.Lock()
	if e, ok := c.byKey[key.Hash]; ok {
		e.recommendations = slices.Clone(recommendations)
		e.createdAt = c.clock()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	res, err := c.embedder.Embed(ctx, key.Text)
	if err != nil {
		c.logger.Error("semantic entry not stored, embedding failed", zap.String("key", short(key.Hash)), zap.Error(err))
		return fmt.Errorf("embed semantic key: %w", err)
	}

	e := &entry{
		key:             key.Hash,
		text:            key.Text,
		recommendations: slices.Clone(recommendations),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key.Hash]; ok {
		existing.recommendations = e.recommendations
		existing.createdAt = c.clock()
		return nil
	}
	e.createdAt = c.clock()
	if err := c.appendLocked(e, res.Embedding); err != nil {
		return fmt.Errorf("set semantic entry: %w", err)
	}
	if len(c.entries) > c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.checkAlignmentLocked()
	metrics.CacheEntries.WithLabelValues(cacheName).Set(float64(len(c.entries)))
	c.logger.Debug("semantic entry stored", zap.String("key", short(key.Hash)))
	return nil
}

// RecordUsage bumps the usage count of the entry stored under hash.
func (c *Cache) RecordUsage(hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byKey[hash]
	if ok {
		e.usage.Add(1)
	}
	return ok
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry and the index.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries, c.rows, c.index = nil, nil, nil
	c.byKey = make(map[string]*entry)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(cacheName).Set(0)
	c.logger.Info("semantic cache cleared", zap.Int("entries", n))
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	Entries          int     `json:"entries"`
	MaxEntries       int     `json:"max_entries"`
	Pinned           int     `json:"pinned"`
	TotalUsage       int64   `json:"total_usage"`
	AvgUsagePerEntry float64 `json:"avg_usage_per_entry"`
	Dimension        int     `json:"embedding_dimension"`
	Model            string  `json:"model_name,omitempty"`
	IndexRows        int     `json:"index_rows"`
	Evictions        int64   `json:"evictions"`
	Rebuilds         int64   `json:"rebuilds"`
}

// Stats reports entry and usage counts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	st := Stats{
		Entries:    len(c.entries),
		MaxEntries: c.cfg.MaxEntries,
		Model:      c.model,
		IndexRows:  c.indexCountLocked(),
	}
	if c.index != nil {
		st.Dimension = c.index.Dimension()
	}
	for _, e := range c.entries {
		st.TotalUsage += e.usage.Load()
		if e.pinned {
			st.Pinned++
		}
	}
	c.mu.RUnlock()

	if st.Entries > 0 {
		st.AvgUsagePerEntry = float64(st.TotalUsage) / float64(st.Entries)
	}
	st.Evictions = c.evictions.Load()
	st.Rebuilds = c.rebuilds.Load()
	return st
}

// appendLocked adds the entry, its row and its index item together.
func (c *Cache) appendLocked(e *entry, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding: %w", domain.ErrVectorDimMismatch)
	}
	if c.index == nil || (len(c.entries) == 0 && c.index.Dimension() != len(vec)) {
		c.index = vector.NewFlat(len(vec))
	}
	if err := c.index.Add(vec); err != nil {
		return err
	}
	c.entries = append(c.entries, e)
	c.rows = append(c.rows, vec)
	c.byKey[e.key] = e
	return nil
}

func (c *Cache) indexCountLocked() int {
	if c.index == nil {
		return 0
	}
	return c.index.Count()
}

func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
