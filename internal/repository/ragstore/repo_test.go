package ragstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kailas-cloud/fwcache/internal/db"
	"github.com/kailas-cloud/fwcache/internal/db/bolt"
	"github.com/kailas-cloud/fwcache/internal/db/memory"
	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
)

func backends(t *testing.T) map[string]db.Store {
	t.Helper()
	b, err := bolt.NewStore(bolt.Config{Path: filepath.Join(t.TempDir(), "kb.db")})
	if err != nil {
		t.Fatalf("bolt.NewStore: %v", err)
	}
	t.Cleanup(b.Close)
	return map[string]db.Store{"memory": memory.NewStore(), "bolt": b}
}

func TestRepo_DocumentLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := New(s, name)
			ctx := context.Background()
			base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

			for i, id := range []string{"file_b", "file_a", "url_c"} {
				if err := r.SaveDocument(ctx, id, "content of "+id); err != nil {
					t.Fatalf("SaveDocument: %v", err)
				}
				info := domrag.DocumentInfo{ID: id, Title: id, CreatedAt: base.Add(time.Duration(i%2) * time.Hour)}
				if err := r.SaveDocumentMetadata(ctx, info); err != nil {
					t.Fatalf("SaveDocumentMetadata: %v", err)
				}
			}

			docs, err := r.ListDocuments(ctx)
			if err != nil {
				t.Fatalf("ListDocuments: %v", err)
			}
			// file_b and url_c share base, file_a is one hour later.
			want := []string{"file_b", "url_c", "file_a"}
			for i, d := range docs {
				if d.ID != want[i] {
					t.Errorf("docs[%d] = %s, want %s", i, d.ID, want[i])
				}
			}

			body, err := r.LoadDocument(ctx, "file_a")
			if err != nil || body != "content of file_a" {
				t.Errorf("LoadDocument = %q, %v", body, err)
			}

			_ = r.DeleteDocument(ctx, "file_a")
			_ = r.DeleteDocumentMetadata(ctx, "file_a")
			if _, err := r.LoadDocument(ctx, "file_a"); !errors.Is(err, domain.ErrDocumentNotFound) {
				t.Errorf("expected ErrDocumentNotFound, got %v", err)
			}
			if _, err := r.LoadDocumentMetadata(ctx, "file_a"); !errors.Is(err, domain.ErrDocumentNotFound) {
				t.Errorf("expected ErrDocumentNotFound for metadata, got %v", err)
			}
		})
	}
}

func TestRepo_ChunksMetadata(t *testing.T) {
	r := New(memory.NewStore(), "memory")
	ctx := context.Background()

	chunks := []domrag.ChunkMeta{{Index: 0, Start: 0, End: 500}, {Index: 1, Start: 450, End: 700}}
	if err := r.SaveChunksMetadata(ctx, "file_a", chunks); err != nil {
		t.Fatalf("SaveChunksMetadata: %v", err)
	}
	got, err := r.LoadChunksMetadata(ctx, "file_a")
	if err != nil || len(got) != 2 || got[1].Start != 450 {
		t.Fatalf("LoadChunksMetadata = %+v, %v", got, err)
	}
	_ = r.DeleteChunksMetadata(ctx, "file_a")
	if _, err := r.LoadChunksMetadata(ctx, "file_a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepo_IndexSnapshot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := New(s, name)
			ctx := context.Background()

			if _, err := r.LoadIndexSnapshot(ctx); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound before first save, got %v", err)
			}

			snap := domrag.IndexSnapshot{
				Dimension: 2,
				Model:     "hashing-64",
				Layout:    []domrag.SnapshotDoc{{DocumentID: "file_a", Chunks: 2}, {DocumentID: "url_b", Chunks: 1}},
				Rows:      [][]float32{{1, 0}, {0, 1}, {0.5, 0.5}},
			}
			if err := r.SaveIndexSnapshot(ctx, snap); err != nil {
				t.Fatalf("SaveIndexSnapshot: %v", err)
			}
			got, err := r.LoadIndexSnapshot(ctx)
			if err != nil {
				t.Fatalf("LoadIndexSnapshot: %v", err)
			}
			if got.Dimension != 2 || len(got.Rows) != 3 || got.Rows[2][1] != 0.5 || got.Layout[1].DocumentID != "url_b" {
				t.Errorf("unexpected snapshot: %+v", got)
			}
		})
	}
}

func TestRepo_SnapshotLayoutMismatch(t *testing.T) {
	r := New(memory.NewStore(), "memory")
	snap := domrag.IndexSnapshot{
		Dimension: 1,
		Layout:    []domrag.SnapshotDoc{{DocumentID: "a", Chunks: 2}},
		Rows:      [][]float32{{1}},
	}
	if err := r.SaveIndexSnapshot(context.Background(), snap); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestRepo_WrapsBackendErrors(t *testing.T) {
	r := New(failingStore{memory.NewStore()}, "broken")
	err := r.SaveDocument(context.Background(), "file_a", "x")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}
