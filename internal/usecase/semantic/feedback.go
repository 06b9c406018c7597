package semantic

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/metrics"
)

// LearnFromFeedback stores an approved fix for issueText as a pinned entry with
// a high usage count. Feedback on an issue already stored promotes that entry
// in place and replaces its recommendations.
func (c *Cache) LearnFromFeedback(ctx context.Context, issueText string, approvedFix domain.Payload) error {
	key := FeedbackKey(issueText)
	if c.promote(key, approvedFix) {
		return nil
	}

	res, err := c.embedder.Embed(ctx, issueText)
	if err != nil {
		c.logger.Error("feedback not stored, embedding failed", zap.Error(err))
		return fmt.Errorf("embed feedback: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byKey[key]; ok {
		c.promoteLocked(e, approvedFix)
		return nil
	}
	e := &entry{
		key:             key,
		text:            issueText,
		recommendations: []domain.Payload{approvedFix},
		createdAt:       c.clock(),
		pinned:          true,
	}
	e.usage.Store(c.cfg.PinnedUsage)
	if err := c.appendLocked(e, res.Embedding); err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}
	if len(c.entries) > c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.checkAlignmentLocked()
	metrics.CacheEntries.WithLabelValues(cacheName).Set(float64(len(c.entries)))
	c.logger.Info("learned approved fix", zap.String("key", key))
	return nil
}

func (c *Cache) promote(key string, fix domain.Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if ok {
		c.promoteLocked(e, fix)
	}
	return ok
}

func (c *Cache) promoteLocked(e *entry, fix domain.Payload) {
	e.pinned = true
	e.recommendations = []domain.Payload{fix}
	if e.usage.Load() < c.cfg.PinnedUsage {
		e.usage.Store(c.cfg.PinnedUsage)
	}
	c.logger.Info("promoted approved fix", zap.String("key", e.key))
}

// Match is one FindSimilar result.
type Match struct {
	Key             string           `json:"key"`
	Text            string           `json:"text"`
	Recommendations []domain.Payload `json:"recommendations"`
	Score           float32          `json:"similarity_score"`
	UsageCount      int64            `json:"usage_count"`
	Pinned          bool             `json:"feedback_approved"`
	CreatedAt       time.Time        `json:"timestamp"`
}

// FindSimilar returns the limit nearest entries to text without a threshold.
func (c *Cache) FindSimilar(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = c.cfg.TopK
	}
	if c.Len() == 0 {
		return nil, nil
	}
	res, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed issue: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.index == nil {
		return nil, nil
	}
	hits, err := c.index.Search(res.Embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search semantic index: %w", err)
	}
	out := make([]Match, len(hits))
	for i, h := range hits {
		e := c.entries[h.Row]
		out[i] = Match{
			Key:             e.key,
			Text:            e.text,
			Recommendations: slices.Clone(e.recommendations),
			Score:           h.Score,
			UsageCount:      e.usage.Load(),
			Pinned:          e.pinned,
			CreatedAt:       e.createdAt,
		}
	}
	return out, nil
}
