// Package ragstore persists knowledge base documents and the index snapshot in a db store.
package ragstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/fwcache/internal/db"
	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	"github.com/kailas-cloud/fwcache/internal/vector"
)

// store is the consumer interface for knowledge base persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

var keyPrefix = domain.KeyPrefix + "rag:"

// Repo maps documents, chunk layouts and the index snapshot onto string keys.
type Repo struct {
	store   store
	backend string
}

// New creates a repository over s. backend names the driver for stats and logs.
func New(s store, backend string) *Repo {
	return &Repo{store: s, backend: backend}
}

// Backend returns the driver name.
func (r *Repo) Backend() string { return r.backend }

// SaveDocument stores the document body.
func (r *Repo) SaveDocument(ctx context.Context, id, content string) error {
	if err := r.store.Set(ctx, docKey(id), []byte(content)); err != nil {
		return wrap("save document", id, err)
	}
	return nil
}

// LoadDocument returns the document body or domain.ErrDocumentNotFound.
func (r *Repo) LoadDocument(ctx context.Context, id string) (string, error) {
	data, err := r.store.Get(ctx, docKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return "", fmt.Errorf("load document %s: %w", id, domain.ErrDocumentNotFound)
		}
		return "", wrap("load document", id, err)
	}
	return string(data), nil
}

// DeleteDocument removes the document body.
func (r *Repo) DeleteDocument(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, docKey(id)); err != nil {
		return wrap("delete document", id, err)
	}
	return nil
}

// SaveDocumentMetadata stores the document description.
func (r *Repo) SaveDocumentMetadata(ctx context.Context, info domrag.DocumentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return wrap("marshal metadata", info.ID, err)
	}
	if err := r.store.Set(ctx, metaKey(info.ID), data); err != nil {
		return wrap("save metadata", info.ID, err)
	}
	return nil
}

// LoadDocumentMetadata returns one document description or domain.ErrDocumentNotFound.
func (r *Repo) LoadDocumentMetadata(ctx context.Context, id string) (domrag.DocumentInfo, error) {
	data, err := r.store.Get(ctx, metaKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domrag.DocumentInfo{}, fmt.Errorf("load metadata %s: %w", id, domain.ErrDocumentNotFound)
		}
		return domrag.DocumentInfo{}, wrap("load metadata", id, err)
	}
	var info domrag.DocumentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domrag.DocumentInfo{}, wrap("decode metadata", id, err)
	}
	return info, nil
}

// ListDocuments returns every stored description sorted by creation time, then id.
// Entries that fail to decode are skipped; the first such error is returned alongside.
func (r *Repo) ListDocuments(ctx context.Context) ([]domrag.DocumentInfo, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+"meta:*")
	if err != nil {
		return nil, wrap("list metadata", "*", err)
	}

	out := make([]domrag.DocumentInfo, 0, len(keys))
	var firstErr error
	for _, k := range keys {
		info, err := r.LoadDocumentMetadata(ctx, strings.TrimPrefix(k, keyPrefix+"meta:"))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b domrag.DocumentInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, firstErr
}

// DeleteDocumentMetadata removes the document description.
func (r *Repo) DeleteDocumentMetadata(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, metaKey(id)); err != nil {
		return wrap("delete metadata", id, err)
	}
	return nil
}

// SaveChunksMetadata stores the chunk layout of one document.
func (r *Repo) SaveChunksMetadata(ctx context.Context, id string, chunks []domrag.ChunkMeta) error {
	data, err := json.Marshal(chunks)
	if err != nil {
		return wrap("marshal chunks", id, err)
	}
	if err := r.store.Set(ctx, chunksKey(id), data); err != nil {
		return wrap("save chunks", id, err)
	}
	return nil
}

// LoadChunksMetadata returns the stored chunk layout of one document.
func (r *Repo) LoadChunksMetadata(ctx context.Context, id string) ([]domrag.ChunkMeta, error) {
	data, err := r.store.Get(ctx, chunksKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("load chunks %s: %w", id, domain.ErrNotFound)
		}
		return nil, wrap("load chunks", id, err)
	}
	var chunks []domrag.ChunkMeta
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, wrap("decode chunks", id, err)
	}
	return chunks, nil
}

// DeleteChunksMetadata removes the chunk layout of one document.
func (r *Repo) DeleteChunksMetadata(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, chunksKey(id)); err != nil {
		return wrap("delete chunks", id, err)
	}
	return nil
}

// SaveIndexSnapshot writes the vector matrix, then its description.
// A reader that sees the new description always finds a matrix of the right size.
func (r *Repo) SaveIndexSnapshot(ctx context.Context, snap domrag.IndexSnapshot) error {
	if len(snap.Rows) != snap.RowCount() {
		return fmt.Errorf("save snapshot: %w: layout has %d rows, matrix has %d",
			domain.ErrInvariantViolation, snap.RowCount(), len(snap.Rows))
	}
	meta, err := json.Marshal(snap)
	if err != nil {
		return wrap("marshal snapshot", "index", err)
	}
	if err := r.store.Set(ctx, keyPrefix+"index:vectors", vector.EncodeRows(snap.Rows)); err != nil {
		return wrap("save snapshot vectors", "index", err)
	}
	if err := r.store.Set(ctx, keyPrefix+"index:meta", meta); err != nil {
		return wrap("save snapshot meta", "index", err)
	}
	return nil
}

// LoadIndexSnapshot returns the stored snapshot or domain.ErrNotFound.
func (r *Repo) LoadIndexSnapshot(ctx context.Context) (domrag.IndexSnapshot, error) {
	metaData, err := r.store.Get(ctx, keyPrefix+"index:meta")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domrag.IndexSnapshot{}, fmt.Errorf("load snapshot: %w", domain.ErrNotFound)
		}
		return domrag.IndexSnapshot{}, wrap("load snapshot meta", "index", err)
	}
	var snap domrag.IndexSnapshot
	if err := json.Unmarshal(metaData, &snap); err != nil {
		return domrag.IndexSnapshot{}, wrap("decode snapshot meta", "index", err)
	}

	if snap.RowCount() == 0 {
		return snap, nil
	}
	vecData, err := r.store.Get(ctx, keyPrefix+"index:vectors")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domrag.IndexSnapshot{}, fmt.Errorf("load snapshot vectors: %w", domain.ErrNotFound)
		}
		return domrag.IndexSnapshot{}, wrap("load snapshot vectors", "index", err)
	}
	rows, err := vector.DecodeRows(vecData, snap.Dimension)
	if err != nil {
		return domrag.IndexSnapshot{}, wrap("decode snapshot vectors", "index", err)
	}
	snap.Rows = rows
	return snap, nil
}

func docKey(id string) string    { return keyPrefix + "doc:" + id }
func metaKey(id string) string   { return keyPrefix + "meta:" + id }
func chunksKey(id string) string { return keyPrefix + "chunks:" + id }

func wrap(op, id string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, id, domain.ErrPersistence, err)
}
