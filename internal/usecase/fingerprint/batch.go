package fingerprint

import (
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/domain/rule"
)

// DefaultPreloadIntent is used for preload configs without an intent.
const DefaultPreloadIntent = "general security audit"

// PreloadConfig is a commonly audited configuration to seed at startup.
type PreloadConfig struct {
	Name   string      `json:"name" yaml:"name"`
	Rules  []rule.Rule `json:"rules" yaml:"rules"`
	Intent string      `json:"intent,omitempty" yaml:"intent,omitempty"`
}

// PreloadResult is the placeholder stored for a preloaded configuration.
type PreloadResult struct {
	Preloaded  bool      `json:"preloaded"`
	ConfigName string    `json:"config_name"`
	RuleCount  int       `json:"rule_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Preload stores a placeholder result for each config and returns the keys written.
func (c *Cache) Preload(configs []PreloadConfig) []string {
	keys := make([]string, 0, len(configs))
	for _, cfg := range configs {
		intent := cfg.Intent
		if strings.TrimSpace(intent) == "" {
			intent = DefaultPreloadIntent
		}
		name := cfg.Name
		if name == "" {
			name = unknown
		}
		p, err := domain.NewJSONPayload(domain.ContentTypeAuditResult, PreloadResult{
			Preloaded:  true,
			ConfigName: name,
			RuleCount:  len(cfg.Rules),
			Timestamp:  c.clock(),
		})
		if err != nil {
			c.logger.Warn("skipping preload config", zap.String("name", name), zap.Error(err))
			continue
		}
		key := Key(cfg.Rules, intent)
		c.Set(key, p)
		keys = append(keys, key)
	}
	c.logger.Info("preloaded common configurations", zap.Int("configs", len(keys)))
	return keys
}

// PatternCount is a rule shape seen in more than one place across a batch.
type PatternCount struct {
	ShapeHash string `json:"rule_key"`
	Count     int    `json:"count"`
}

// BatchAnalysis is the cached result of OptimizeForBatch.
type BatchAnalysis struct {
	Patterns   []PatternCount `json:"patterns"`
	BatchSize  int            `json:"batch_size"`
	Intent     string         `json:"intent"`
	AnalyzedAt time.Time      `json:"timestamp"`
}

// BatchStats summarizes shared patterns in a batch audit.
type BatchStats struct {
	BatchSize           int    `json:"batch_size"`
	CommonPatterns      int    `json:"common_patterns_found"`
	EstimatedSavingsPct int    `json:"estimated_savings_percent"`
	PatternKey          string `json:"pattern_key"`
}

// OptimizeForBatch finds rule shapes (direction, action, protocols, ports)
// that occur more than once across the batch and caches the analysis under
// a batch_pattern_ key. Savings are a rough 10% per shared pattern, capped at 90.
func (c *Cache) OptimizeForBatch(batch [][]rule.Rule, intent string) BatchStats {
	counts := make(map[string]int)
	for _, rules := range batch {
		for _, r := range rules {
			counts[r.ShapeHash()]++
		}
	}

	patterns := make([]PatternCount, 0, len(counts))
	for h, n := range counts {
		if n > 1 {
			patterns = append(patterns, PatternCount{ShapeHash: h, Count: n})
		}
	}
	slices.SortFunc(patterns, func(a, b PatternCount) int { return strings.Compare(a.ShapeHash, b.ShapeHash) })

	key := "batch_pattern_" + hashOf(canonical(patterns))[:16]
	stats := BatchStats{
		BatchSize:           len(batch),
		CommonPatterns:      len(patterns),
		EstimatedSavingsPct: min(90, 10*len(patterns)),
		PatternKey:          key,
	}

	p, err := domain.NewJSONPayload(domain.ContentTypeBatchAnalysis, BatchAnalysis{
		Patterns:   patterns,
		BatchSize:  len(batch),
		Intent:     strings.ToLower(strings.TrimSpace(intent)),
		AnalyzedAt: c.clock(),
	})
	if err != nil {
		c.logger.Warn("batch analysis not cached", zap.Error(err))
		return stats
	}
	c.Set(key, p)

	c.logger.Debug("batch analyzed",
		zap.Int("batch_size", stats.BatchSize),
		zap.Int("common_patterns", stats.CommonPatterns),
	)
	return stats
}
