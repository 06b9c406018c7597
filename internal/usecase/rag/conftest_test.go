package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

var vocab = []string{"ssh", "http", "dns", "pci", "logging"}

// keywordEmbedder counts vocabulary words. A constant last component keeps
// texts without any keyword from being zero vectors.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	lower := strings.ToLower(text)
	v := make([]float32, len(vocab)+1)
	for i, w := range vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocab)] = 0.1
	return domain.EmbeddingResult{Embedding: v, PromptTokens: 1, TotalTokens: 1}, nil
}

func (e *keywordEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
