// Package hashing is an offline embedder: a signed feature-hashing bag of
// words. Texts sharing vocabulary land close together, which is enough for
// development and tests without a provider.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

// DefaultDimension is used when New gets a non-positive dimension.
const DefaultDimension = 256

// Model is the name reported in stats and snapshots.
const Model = "hashing-bow"

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9._/-]*`)

// Embedder implements domain.Embedder and domain.BatchEmbedder.
type Embedder struct {
	dim       int
	stopwords map[string]struct{}
}

// New creates an embedder producing vectors of the given dimension.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim, stopwords: defaultStopwords()}
}

// Dimension returns the vector length.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns the L2-normalized hashed term vector. Text without tokens
// yields a zero vector. Token counts are reported as zero: nothing is billed.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: e.vector(text)}, nil
}

// BatchEmbed embeds each text in order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// HealthCheck always succeeds.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range e.tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "it", "this", "that", "these",
		"those", "from", "into", "about", "should", "can", "will",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
