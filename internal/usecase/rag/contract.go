package rag

import (
	"context"

	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
)

// Embedder vectorizes chunk and query text. Implementations that also satisfy
// domain.BatchEmbedder embed a whole document in one call.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Persistence is the durable side of the knowledge base.
// LoadIndexSnapshot returns domain.ErrNotFound when nothing was saved yet.
type Persistence interface {
	SaveDocument(ctx context.Context, id, content string) error
	LoadDocument(ctx context.Context, id string) (string, error)
	DeleteDocument(ctx context.Context, id string) error

	SaveDocumentMetadata(ctx context.Context, info domrag.DocumentInfo) error
	LoadDocumentMetadata(ctx context.Context, id string) (domrag.DocumentInfo, error)
	ListDocuments(ctx context.Context) ([]domrag.DocumentInfo, error)
	DeleteDocumentMetadata(ctx context.Context, id string) error

	SaveChunksMetadata(ctx context.Context, id string, chunks []domrag.ChunkMeta) error
	DeleteChunksMetadata(ctx context.Context, id string) error

	SaveIndexSnapshot(ctx context.Context, snap domrag.IndexSnapshot) error
	LoadIndexSnapshot(ctx context.Context) (domrag.IndexSnapshot, error)

	Backend() string
}
