// Package rag is the knowledge base: chunked reference documents searchable by meaning.
//
// Documents own their chunks; chunk i of the store is row i of the vector
// matrix and item i of the index. The index is a projection of the rows and
// is rebuilt from them on delete, so nothing is ever re-embedded except on a
// cold load without a usable snapshot.
package rag

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/chunker"
	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	"github.com/kailas-cloud/fwcache/internal/metrics"
	"github.com/kailas-cloud/fwcache/internal/vector"
)

const (
	storeName           = "rag"
	defaultSearchLimit  = 5
	rebuildReasonDelete = "delete"
	rebuildReasonRepair = "repair"
	rebuildReasonLoad   = "load"
)

// rowRef locates the chunk stored at one index row.
type rowRef struct {
	docID string
	chunk int
}

// Store holds documents, their chunk vectors and the flat index over them.
type Store struct {
	embedder     Embedder
	queryEmb     Embedder
	persist      Persistence
	window       *chunker.Window
	model        string
	defaultLimit int
	logger       *zap.Logger
	clock        func() time.Time

	mu    sync.RWMutex
	docs  map[string]*domrag.Document
	order []string // document ids in row order
	refs  []rowRef
	rows  [][]float32
	index *vector.Flat // nil until the first vector fixes the dimension
	gen   uint64

	persistMu sync.Mutex
	savedGen  uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence attaches a durable adapter. Without one the store is memory only.
func WithPersistence(p Persistence) Option {
	return func(s *Store) { s.persist = p }
}

// WithQueryEmbedder embeds search queries with e instead of the chunk embedder,
// for providers that prefix queries and documents with different instructions.
func WithQueryEmbedder(e Embedder) Option {
	return func(s *Store) { s.queryEmb = e }
}

// WithChunker replaces the default 500/50 rune window.
func WithChunker(w *chunker.Window) Option {
	return func(s *Store) {
		if w != nil {
			s.window = w
		}
	}
}

// WithModel records the embedding model name. A snapshot saved under another model is not adopted.
func WithModel(model string) Option {
	return func(s *Store) { s.model = model }
}

// WithDefaultLimit sets the result count used when Search gets limit <= 0.
func WithDefaultLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates an empty knowledge base.
func New(embedder Embedder, opts ...Option) *Store {
	s := &Store{
		embedder:     embedder,
		window:       chunker.New(),
		defaultLimit: defaultSearchLimit,
		logger:       zap.NewNop(),
		clock:        time.Now,
		docs:         make(map[string]*domrag.Document),
	}
	for _, o := range opts {
		o(s)
	}
	if s.queryEmb == nil {
		s.queryEmb = embedder
	}
	return s
}

// AddDocument chunks, embeds and indexes content, then persists it.
// The id is content addressed; adding identical content again returns the same id
// without touching the index.
func (s *Store) AddDocument(
	ctx context.Context,
	source string, sourceType domrag.SourceType, title, content string,
	metadata map[string]any,
) (string, error) {
	if _, err := domrag.ParseSourceType(string(sourceType)); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("add document %q: %w", source, domain.ErrEmptyContent)
	}

	id := domrag.DocumentID(sourceType, content)
	if s.has(id) {
		s.logger.Debug("document already indexed", zap.String("doc_id", id))
		return id, nil
	}

	doc := s.buildDocument(id, source, sourceType, title, content, metadata, s.clock())
	vecs, err := s.embedChunks(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("add document %s: %w", id, err)
	}

	s.mu.Lock()
	if _, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return id, nil
	}
	if err := s.appendLocked(doc, vecs); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("add document %s: %w", id, err)
	}
	snap, gen := s.snapshotLocked()
	chunkCount := len(s.rows)
	s.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(storeName).Set(float64(chunkCount))
	s.logger.Info("document added",
		zap.String("doc_id", id),
		zap.String("source", source),
		zap.Int("chunks", len(doc.Chunks)),
	)

	s.persistDocument(ctx, doc, snap, gen)
	return id, nil
}

// GetDocument returns a copy of one document with its chunks.
func (s *Store) GetDocument(id string) (domrag.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domrag.Document{}, fmt.Errorf("get document %s: %w", id, domain.ErrDocumentNotFound)
	}
	return cloneDocument(doc), nil
}

// ListDocuments describes every document, oldest first.
func (s *Store) ListDocuments() []domrag.DocumentInfo {
	s.mu.RLock()
	out := make([]domrag.DocumentInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id].Info())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domrag.DocumentInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// DeleteDocument drops a document and its rows, rebuilds the index and
// removes the persisted copies. It reports false for an unknown id.
func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.docs[id]; !ok {
		s.mu.Unlock()
		return false, nil
	}

	refs := make([]rowRef, 0, len(s.refs))
	rows := make([][]float32, 0, len(s.rows))
	for i, ref := range s.refs {
		if ref.docID == id {
			continue
		}
		refs = append(refs, ref)
		rows = append(rows, s.rows[i])
	}
	if err := s.rebuildLocked(refs, rows, rebuildReasonDelete); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	delete(s.docs, id)
	s.order = slices.DeleteFunc(s.order, func(d string) bool { return d == id })
	s.gen++
	s.checkAlignmentLocked()
	snap, gen := s.snapshotLocked()
	chunkCount := len(s.rows)
	s.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(storeName).Set(float64(chunkCount))
	s.logger.Info("document deleted", zap.String("doc_id", id))

	s.unpersistDocument(ctx, id, snap, gen)
	return true, nil
}

// Stats is a point-in-time summary of the knowledge base.
type Stats struct {
	TotalDocuments     int    `json:"total_documents"`
	TotalChunks        int    `json:"total_chunks"`
	IndexRows          int    `json:"index_rows"`
	Dimension          int    `json:"dimension"`
	Model              string `json:"model,omitempty"`
	ChunkSize          int    `json:"chunk_size"`
	ChunkOverlap       int    `json:"chunk_overlap"`
	PersistenceEnabled bool   `json:"persistence_enabled"`
	PersistenceBackend string `json:"persistence_backend,omitempty"`
}

// Stats reports current counts and configuration.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalDocuments: len(s.docs),
		TotalChunks:    len(s.refs),
		IndexRows:      s.indexCountLocked(),
		Model:          s.model,
		ChunkSize:      s.window.Size(),
		ChunkOverlap:   s.window.Overlap(),
	}
	if s.index != nil {
		st.Dimension = s.index.Dimension()
	}
	if s.persist != nil {
		st.PersistenceEnabled = true
		st.PersistenceBackend = s.persist.Backend()
	}
	return st
}

func (s *Store) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok
}

// buildDocument splits content into chunks. Chunk metadata inherits the
// document metadata plus title, source and source_type.
func (s *Store) buildDocument(
	id, source string, sourceType domrag.SourceType, title, content string,
	metadata map[string]any, createdAt time.Time,
) *domrag.Document {
	if title == "" {
		title = source
	}
	doc := &domrag.Document{
		ID:         id,
		Source:     source,
		SourceType: sourceType,
		Title:      title,
		Content:    content,
		Metadata:   maps.Clone(metadata),
		CreatedAt:  createdAt,
	}

	spans := s.window.Split(content)
	doc.Chunks = make([]domrag.Chunk, len(spans))
	for i, sp := range spans {
		meta := make(map[string]any, len(metadata)+3)
		maps.Copy(meta, metadata)
		meta["title"] = title
		meta["source"] = source
		meta["source_type"] = string(sourceType)
		doc.Chunks[i] = domrag.Chunk{
			DocumentID: id,
			Index:      sp.Index,
			Start:      sp.Start,
			End:        sp.End,
			Content:    sp.Content,
			Metadata:   meta,
		}
	}
	return doc
}

func (s *Store) embedChunks(ctx context.Context, doc *domrag.Document) ([][]float32, error) {
	texts := make([]string, len(doc.Chunks))
	for i, c := range doc.Chunks {
		texts[i] = c.Content
	}
	res, err := domain.EmbedAll(ctx, s.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	dim := len(res.Embeddings[0])
	for i, v := range res.Embeddings {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("embed chunks: chunk %d has %d dimensions, want %d: %w",
				i, len(v), dim, domain.ErrVectorDimMismatch)
		}
	}
	return res.Embeddings, nil
}

// appendLocked adds a document's chunks and vectors to all three collections at once.
func (s *Store) appendLocked(doc *domrag.Document, vecs [][]float32) error {
	if s.index == nil || (len(s.rows) == 0 && s.index.Dimension() != len(vecs[0])) {
		s.index = vector.NewFlat(len(vecs[0]))
	}
	if err := s.index.AddBatch(vecs); err != nil {
		return err
	}
	for i := range doc.Chunks {
		doc.Chunks[i].Embedding = vecs[i]
		s.refs = append(s.refs, rowRef{docID: doc.ID, chunk: i})
		s.rows = append(s.rows, vecs[i])
	}
	s.docs[doc.ID] = doc
	s.order = append(s.order, doc.ID)
	s.gen++
	s.checkAlignmentLocked()
	return nil
}

// rebuildLocked replaces rows and refs and rebuilds the index from rows.
func (s *Store) rebuildLocked(refs []rowRef, rows [][]float32, reason string) error {
	dim := 0
	if s.index != nil {
		dim = s.index.Dimension()
	} else if len(rows) > 0 {
		dim = len(rows[0])
	}
	idx, err := vector.NewFlatFrom(dim, rows)
	if err != nil {
		return err
	}
	s.refs, s.rows, s.index = refs, rows, idx
	metrics.IndexRebuildsTotal.WithLabelValues(storeName, reason).Inc()
	return nil
}

// checkAlignmentLocked repairs the index when it drifted from the rows.
func (s *Store) checkAlignmentLocked() {
	err := domain.CheckAlignment(storeName, len(s.refs), len(s.rows), s.indexCountLocked())
	if err == nil {
		return
	}
	s.logger.DPanic("knowledge base out of alignment", zap.Error(err))
	if len(s.refs) != len(s.rows) {
		n := min(len(s.refs), len(s.rows))
		s.refs, s.rows = s.refs[:n], s.rows[:n]
	}
	if rerr := s.rebuildLocked(s.refs, s.rows, rebuildReasonRepair); rerr != nil {
		s.logger.Error("index repair failed", zap.Error(rerr))
	}
}

func (s *Store) indexCountLocked() int {
	if s.index == nil {
		return 0
	}
	return s.index.Count()
}

func cloneDocument(d *domrag.Document) domrag.Document {
	out := *d
	out.Metadata = maps.Clone(d.Metadata)
	out.Chunks = make([]domrag.Chunk, len(d.Chunks))
	for i, c := range d.Chunks {
		c.Metadata = maps.Clone(c.Metadata)
		c.Embedding = slices.Clone(c.Embedding)
		out.Chunks[i] = c
	}
	return out
}
