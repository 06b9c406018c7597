// Package rag holds the knowledge base aggregate: documents, their chunks and search hits.
package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"time"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

// SourceType is where a document came from.
type SourceType string

// Document sources.
const (
	SourceFile SourceType = "file"
	SourceURL  SourceType = "url"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceFile, SourceURL:
		return SourceType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidSourceType, s)
	}
}

// DocumentID derives the content-addressed id: sourceType + "_" + sha256(content)[:16].
func DocumentID(sourceType SourceType, content string) string {
	h := sha256.Sum256([]byte(content))
	return string(sourceType) + "_" + hex.EncodeToString(h[:])[:16]
}

// Document is an ingested reference document.
type Document struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	SourceType SourceType     `json:"source_type"`
	Title      string         `json:"title"`
	Content    string         `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Chunks     []Chunk        `json:"-"`
}

// Info returns the document without its content. Metadata is copied.
func (d Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:         d.ID,
		Title:      d.Title,
		Source:     d.Source,
		SourceType: d.SourceType,
		CreatedAt:  d.CreatedAt,
		ChunkCount: len(d.Chunks),
		Metadata:   maps.Clone(d.Metadata),
	}
}

// DocumentInfo is the persisted and listed view of a document.
type DocumentInfo struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Source     string         `json:"source"`
	SourceType SourceType     `json:"source_type"`
	CreatedAt  time.Time      `json:"created_at"`
	ChunkCount int            `json:"chunk_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Chunk is a contiguous window of a document's content.
// Start and End are rune offsets into the content.
type Chunk struct {
	DocumentID string         `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Start      int            `json:"start"`
	End        int            `json:"end"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChunkMeta is the persisted description of a chunk.
type ChunkMeta struct {
	Index    int            `json:"chunk_index"`
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Relevance buckets a similarity score.
type Relevance string

// Relevance tiers.
const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// RelevanceOf maps a score to its tier: high above 0.7, medium above 0.5.
func RelevanceOf(score float32) Relevance {
	switch {
	case score > 0.7:
		return RelevanceHigh
	case score > 0.5:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// SearchResult is one document's best matching chunk.
type SearchResult struct {
	Chunk     Chunk        `json:"chunk"`
	Document  DocumentInfo `json:"document"`
	Score     float32      `json:"score"`
	Relevance Relevance    `json:"relevance"`
}

// SnapshotDoc records how many index rows belong to one document, in row order.
type SnapshotDoc struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// IndexSnapshot is a persisted copy of the chunk vectors in index row order.
type IndexSnapshot struct {
	Dimension int           `json:"dimension"`
	Model     string        `json:"model,omitempty"`
	Layout    []SnapshotDoc `json:"layout"`
	Rows      [][]float32   `json:"-"`
	SavedAt   time.Time     `json:"saved_at"`
}

// RowCount sums the layout. It equals len(Rows) for a consistent snapshot.
func (s IndexSnapshot) RowCount() int {
	n := 0
	for _, d := range s.Layout {
		n += d.Chunks
	}
	return n
}
