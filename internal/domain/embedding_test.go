package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = append(s.got, text)
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		want        string
	}{
		{"with instruction", "audit query: ", "audit query: allow ssh"},
		{"empty instruction", "", "allow ssh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2}}}
			emb := NewInstructionEmbedder(inner, tt.instruction)
			if _, err := emb.Embed(context.Background(), "allow ssh"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inner.got[0] != tt.want {
				t.Errorf("got %q, want %q", inner.got[0], tt.want)
			}
		})
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	emb := NewInstructionEmbedder(&stubEmbedder{err: innerErr}, "q: ")

	if _, err := emb.Embed(context.Background(), "hello"); !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
	if _, err := emb.BatchEmbed(context.Background(), []string{"a"}); !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error from batch fallback, got %v", err)
	}
}

func TestInstructionEmbedder_BatchEmbed_WithBatchInner(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{
		Embeddings:  [][]float32{{0.1}, {0.2}},
		TotalTokens: 20,
	}}
	emb := NewInstructionEmbedder(inner, "doc: ")

	res, err := emb.BatchEmbed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if inner.batchTexts[0] != "doc: hello" || inner.batchTexts[1] != "doc: world" {
		t.Errorf("expected prefixed texts, got %v", inner.batchTexts)
	}
}

func TestBatchFallback_SumsTokens(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{
		Embedding:    []float32{0.1, 0.2},
		PromptTokens: 5,
		TotalTokens:  5,
	}}
	res, err := BatchFallback(context.Background(), inner, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 || res.TotalTokens != 15 || res.PromptTokens != 15 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestEmbedAll(t *testing.T) {
	t.Run("empty input skips provider", func(t *testing.T) {
		inner := &stubEmbedder{}
		res, err := EmbedAll(context.Background(), inner, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Embeddings) != 0 || len(inner.got) != 0 {
			t.Errorf("expected no calls, got %v", inner.got)
		}
	})

	t.Run("uses native batch", func(t *testing.T) {
		inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{
			Embeddings: [][]float32{{1}, {2}},
		}}
		if _, err := EmbedAll(context.Background(), inner, []string{"a", "b"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(inner.batchTexts) != 2 || len(inner.got) != 0 {
			t.Errorf("expected one batch call, got batch=%v single=%v", inner.batchTexts, inner.got)
		}
	})

	t.Run("short batch is a provider error", func(t *testing.T) {
		inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{
			Embeddings: [][]float32{{1}},
		}}
		_, err := EmbedAll(context.Background(), inner, []string{"a", "b"})
		if !errors.Is(err, ErrEmbeddingProviderError) {
			t.Errorf("expected ErrEmbeddingProviderError, got %v", err)
		}
	})

	t.Run("falls back to single embeds", func(t *testing.T) {
		inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.5}}}
		res, err := EmbedAll(context.Background(), inner, []string{"a", "b"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Embeddings) != 2 || len(inner.got) != 2 {
			t.Errorf("expected 2 single calls, got %d", len(inner.got))
		}
	})
}

func TestCheckAlignment(t *testing.T) {
	if err := CheckAlignment("semantic", 3, 3, 3); err != nil {
		t.Fatalf("expected aligned, got %v", err)
	}
	err := CheckAlignment("semantic", 3, 3, 2)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	var ae *AlignmentError
	if !errors.As(err, &ae) || ae.IndexSize != 2 {
		t.Errorf("expected AlignmentError with index=2, got %#v", err)
	}
}
