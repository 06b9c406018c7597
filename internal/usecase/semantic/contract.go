package semantic

import (
	"context"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

// Embedder vectorizes key text and queries.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
