package chi

import (
	"context"

	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	embeddinguc "github.com/kailas-cloud/fwcache/internal/usecase/embedding"
	"github.com/kailas-cloud/fwcache/internal/usecase/fingerprint"
	healthuc "github.com/kailas-cloud/fwcache/internal/usecase/health"
	"github.com/kailas-cloud/fwcache/internal/usecase/rag"
	"github.com/kailas-cloud/fwcache/internal/usecase/semantic"
)

// FingerprintCache is the part of the exact-match cache the ops API uses.
type FingerprintCache interface {
	Stats() fingerprint.Stats
	Clear()
}

// SemanticCache is the part of the recommendation cache the ops API uses.
type SemanticCache interface {
	Stats() semantic.Stats
	Clear()
}

// KnowledgeBase is the read side of the document store.
type KnowledgeBase interface {
	Stats() rag.Stats
	ListDocuments() []domrag.DocumentInfo
	GetDocument(id string) (domrag.Document, error)
	Search(ctx context.Context, query string, limit int, minScore float32) ([]domrag.SearchResult, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// BudgetReader exposes token budget counters.
type BudgetReader interface {
	Status() embeddinguc.BudgetStatus
}
