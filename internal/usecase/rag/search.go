package rag

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	"github.com/kailas-cloud/fwcache/internal/metrics"
)

// Search returns at most limit documents whose best chunk scores at least minScore,
// ordered by descending score. Each document appears once, represented by its
// highest scoring chunk.
func (s *Store) Search(ctx context.Context, query string, limit int, minScore float32) ([]domrag.SearchResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}

	s.mu.RLock()
	empty := len(s.rows) == 0
	s.mu.RUnlock()
	if empty {
		metrics.CacheRequestsTotal.WithLabelValues(storeName, "miss").Inc()
		return nil, nil
	}

	res, err := s.queryEmb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil || len(s.rows) == 0 {
		return nil, nil
	}

	// Ask for twice the limit so per-document dedup still fills the page.
	hits, err := s.index.Search(res.Embedding, min(2*limit, len(s.rows)))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make([]domrag.SearchResult, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, h := range hits {
		if len(results) == limit {
			break
		}
		if h.Score < minScore {
			continue
		}
		ref := s.refs[h.Row]
		if _, dup := seen[ref.docID]; dup {
			continue
		}
		seen[ref.docID] = struct{}{}

		doc := s.docs[ref.docID]
		chunk := doc.Chunks[ref.chunk]
		chunk.Embedding = nil
		chunk.Metadata = maps.Clone(chunk.Metadata)
		results = append(results, domrag.SearchResult{
			Chunk:     chunk,
			Document:  doc.Info(),
			Score:     h.Score,
			Relevance: domrag.RelevanceOf(h.Score),
		})
	}

	outcome := "hit"
	if len(results) == 0 {
		outcome = "miss"
	}
	metrics.CacheRequestsTotal.WithLabelValues(storeName, outcome).Inc()
	s.logger.Debug("knowledge base search",
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(results)),
	)
	return results, nil
}
