package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	"github.com/kailas-cloud/fwcache/internal/metrics"
)

// Load replaces the in-memory state with what the adapter holds.
// Documents are re-chunked with the current window. The saved index snapshot is
// adopted when its layout, model and dimension match the rebuilt chunks;
// otherwise every chunk is re-embedded and a fresh snapshot is written.
// Documents with a missing body or a failed embedding are skipped.
// Without an adapter Load does nothing.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	infos, err := s.persist.ListDocuments(ctx)
	if err != nil {
		if len(infos) == 0 {
			return fmt.Errorf("load documents: %w", err)
		}
		s.logger.Warn("some document metadata unreadable", zap.Error(err))
	}
	slices.SortStableFunc(infos, func(a, b domrag.DocumentInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	docs := make([]*domrag.Document, 0, len(infos))
	for _, info := range infos {
		content, err := s.persist.LoadDocument(ctx, info.ID)
		if err != nil {
			s.logger.Warn("skipping document without body", zap.String("doc_id", info.ID), zap.Error(err))
			continue
		}
		doc := s.buildDocument(info.ID, info.Source, info.SourceType, info.Title, content, info.Metadata, info.CreatedAt)
		if len(doc.Chunks) == 0 {
			s.logger.Warn("skipping empty document", zap.String("doc_id", info.ID))
			continue
		}
		docs = append(docs, doc)
	}

	vecs, adopted := s.adoptSnapshot(ctx, docs)
	if !adopted {
		docs, vecs = s.reembed(ctx, docs)
	}

	s.mu.Lock()
	s.docs = make(map[string]*domrag.Document, len(docs))
	s.order = s.order[:0]
	s.refs, s.rows, s.index = nil, nil, nil
	for i, doc := range docs {
		if err := s.appendLocked(doc, vecs[i]); err != nil {
			s.logger.Warn("skipping document", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
	if !adopted {
		metrics.IndexRebuildsTotal.WithLabelValues(storeName, rebuildReasonLoad).Inc()
	}
	snap, gen := s.snapshotLocked()
	docCount, chunkCount := len(s.docs), len(s.rows)
	s.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(storeName).Set(float64(chunkCount))
	s.logger.Info("knowledge base loaded",
		zap.Int("documents", docCount),
		zap.Int("chunks", chunkCount),
		zap.Bool("snapshot_adopted", adopted),
		zap.String("backend", s.persist.Backend()),
	)

	if !adopted && docCount > 0 {
		s.logPersistErr("save snapshot", "load", s.saveSnapshot(ctx, snap, gen))
	}
	return nil
}

// SaveState writes the current index snapshot.
func (s *Store) SaveState(ctx context.Context) error {
	if s.persist == nil {
		return fmt.Errorf("save state: %w", domain.ErrPersistenceDisabled)
	}
	s.mu.RLock()
	snap, gen := s.snapshotLocked()
	s.mu.RUnlock()
	return s.saveSnapshot(ctx, snap, gen)
}

// adoptSnapshot splits the saved matrix into per-document vectors when it
// describes exactly these documents in this order.
func (s *Store) adoptSnapshot(ctx context.Context, docs []*domrag.Document) ([][][]float32, bool) {
	snap, err := s.persist.LoadIndexSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("index snapshot unreadable", zap.Error(err))
		}
		return nil, false
	}
	if reason := snapshotMismatch(snap, docs, s.model); reason != "" {
		s.logger.Info("index snapshot not adopted", zap.String("reason", reason))
		return nil, false
	}

	out := make([][][]float32, len(docs))
	row := 0
	for i, doc := range docs {
		out[i] = snap.Rows[row : row+len(doc.Chunks)]
		row += len(doc.Chunks)
	}
	return out, true
}

func snapshotMismatch(snap domrag.IndexSnapshot, docs []*domrag.Document, model string) string {
	if model != "" && snap.Model != "" && snap.Model != model {
		return "model changed"
	}
	if len(snap.Layout) != len(docs) {
		return "document count changed"
	}
	total := 0
	for i, d := range docs {
		if snap.Layout[i].DocumentID != d.ID || snap.Layout[i].Chunks != len(d.Chunks) {
			return "chunk layout changed"
		}
		total += len(d.Chunks)
	}
	if len(snap.Rows) != total {
		return "row count changed"
	}
	for _, r := range snap.Rows {
		if len(r) != snap.Dimension || snap.Dimension == 0 {
			return "dimension changed"
		}
	}
	return ""
}

// reembed vectorizes every document again, dropping those that fail.
func (s *Store) reembed(ctx context.Context, docs []*domrag.Document) ([]*domrag.Document, [][][]float32) {
	keptDocs := make([]*domrag.Document, 0, len(docs))
	keptVecs := make([][][]float32, 0, len(docs))
	dim := 0
	for _, doc := range docs {
		vecs, err := s.embedChunks(ctx, doc)
		if err != nil {
			s.logger.Warn("skipping document, re-embedding failed", zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		if dim == 0 {
			dim = len(vecs[0])
		}
		if len(vecs[0]) != dim {
			s.logger.Warn("skipping document, dimension differs",
				zap.String("doc_id", doc.ID), zap.Int("dimension", len(vecs[0])), zap.Int("want", dim))
			continue
		}
		keptDocs = append(keptDocs, doc)
		keptVecs = append(keptVecs, vecs)
	}
	return keptDocs, keptVecs
}

// snapshotLocked captures rows in index order. Rows are never mutated after
// insert, so sharing them with the snapshot is safe.
func (s *Store) snapshotLocked() (domrag.IndexSnapshot, uint64) {
	snap := domrag.IndexSnapshot{
		Model:   s.model,
		Layout:  make([]domrag.SnapshotDoc, 0, len(s.order)),
		Rows:    slices.Clone(s.rows),
		SavedAt: s.clock(),
	}
	if s.index != nil {
		snap.Dimension = s.index.Dimension()
	}
	for _, id := range s.order {
		snap.Layout = append(snap.Layout, domrag.SnapshotDoc{DocumentID: id, Chunks: len(s.docs[id].Chunks)})
	}
	return snap, s.gen
}

// saveSnapshot writes snap unless a newer generation is already on disk.
func (s *Store) saveSnapshot(ctx context.Context, snap domrag.IndexSnapshot, gen uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.saveSnapshotLocked(ctx, snap, gen)
}

func (s *Store) saveSnapshotLocked(ctx context.Context, snap domrag.IndexSnapshot, gen uint64) error {
	if gen < s.savedGen {
		return nil
	}
	if err := s.persist.SaveIndexSnapshot(ctx, snap); err != nil {
		return err
	}
	s.savedGen = gen
	return nil
}

// persistDocument writes a freshly added document. It runs under persistMu and
// gives up when the document was deleted in the meantime, so a racing delete
// cannot be undone by a late write.
func (s *Store) persistDocument(ctx context.Context, doc *domrag.Document, snap domrag.IndexSnapshot, gen uint64) {
	if s.persist == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if !s.has(doc.ID) {
		s.logger.Debug("document deleted before persisting", zap.String("doc_id", doc.ID))
		return
	}
	chunks := make([]domrag.ChunkMeta, len(doc.Chunks))
	for i, c := range doc.Chunks {
		chunks[i] = domrag.ChunkMeta{Index: c.Index, Start: c.Start, End: c.End, Metadata: c.Metadata}
	}
	s.logPersistErr("save document", doc.ID, s.persist.SaveDocument(ctx, doc.ID, doc.Content))
	s.logPersistErr("save metadata", doc.ID, s.persist.SaveDocumentMetadata(ctx, doc.Info()))
	s.logPersistErr("save chunks", doc.ID, s.persist.SaveChunksMetadata(ctx, doc.ID, chunks))
	s.logPersistErr("save snapshot", doc.ID, s.saveSnapshotLocked(ctx, snap, gen))
}

// unpersistDocument removes the persisted copies of a deleted document.
func (s *Store) unpersistDocument(ctx context.Context, id string, snap domrag.IndexSnapshot, gen uint64) {
	if s.persist == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.logPersistErr("delete document", id, s.persist.DeleteDocument(ctx, id))
	s.logPersistErr("delete metadata", id, s.persist.DeleteDocumentMetadata(ctx, id))
	s.logPersistErr("delete chunks", id, s.persist.DeleteChunksMetadata(ctx, id))
	s.logPersistErr("save snapshot", id, s.saveSnapshotLocked(ctx, snap, gen))
}

func (s *Store) logPersistErr(op, id string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("knowledge base persistence failed",
		zap.String("op", op),
		zap.String("doc_id", id),
		zap.Error(err),
	)
}
