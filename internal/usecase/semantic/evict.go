package semantic

import (
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	"github.com/kailas-cloud/fwcache/internal/vector"
)

// evictLocked removes the count - floor(KeepFraction*count) least used,
// then oldest, unpinned entries and rebuilds the index from the survivors.
func (c *Cache) evictLocked() {
	n := len(c.entries)
	remove := n - int(c.cfg.KeepFraction*float64(n))
	if remove <= 0 {
		return
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ua, ub := c.entries[a].usage.Load(), c.entries[b].usage.Load()
		if ua != ub {
			if ua < ub {
				return -1
			}
			return 1
		}
		return c.entries[a].createdAt.Compare(c.entries[b].createdAt)
	})

	drop := make(map[int]struct{}, remove)
	for _, i := range order {
		if len(drop) == remove {
			break
		}
		if c.entries[i].pinned {
			continue
		}
		drop[i] = struct{}{}
	}
	if len(drop) == 0 {
		return
	}

	entries := make([]*entry, 0, n-len(drop))
	rows := make([][]float32, 0, n-len(drop))
	for i, e := range c.entries {
		if _, ok := drop[i]; ok {
			delete(c.byKey, e.key)
			continue
		}
		entries = append(entries, e)
		rows = append(rows, c.rows[i])
	}
	c.entries, c.rows = entries, rows
	c.rebuildLocked("evict")

	c.evictions.Add(int64(len(drop)))
	metrics.CacheEvictionsTotal.WithLabelValues(cacheName).Add(float64(len(drop)))
	c.logger.Info("evicted semantic cache entries", zap.Int("evicted", len(drop)), zap.Int("entries", len(entries)))
}

// rebuildLocked recreates the index from the stored rows.
func (c *Cache) rebuildLocked(reason string) {
	dim := 0
	if c.index != nil {
		dim = c.index.Dimension()
	}
	idx, err := vector.NewFlatFrom(dim, c.rows)
	if err != nil {
		c.logger.Error("semantic index rebuild failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	c.index = idx
	c.rebuilds.Add(1)
	metrics.IndexRebuildsTotal.WithLabelValues(cacheName, reason).Inc()
}

// checkAlignmentLocked repairs the index when entries, rows and index items drifted.
func (c *Cache) checkAlignmentLocked() {
	err := domain.CheckAlignment(cacheName, len(c.entries), len(c.rows), c.indexCountLocked())
	if err == nil {
		return
	}
	c.logger.DPanic("semantic cache out of alignment", zap.Error(err))
	if len(c.entries) != len(c.rows) {
		n := min(len(c.entries), len(c.rows))
		for _, e := range c.entries[n:] {
			delete(c.byKey, e.key)
		}
		c.entries, c.rows = c.entries[:n], c.rows[:n]
	}
	c.rebuildLocked("repair")
}
