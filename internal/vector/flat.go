// Package vector provides an exact inner-product nearest-neighbor index.
//
// Vectors are L2-normalized on insert and on query, so scores are cosine
// similarity in [-1, 1]. The index has no point delete: owners keep their
// own rows and rebuild with NewFlatFrom after removing entries.
//
// Flat is not safe for concurrent mutation; callers hold their own lock.
package vector

import (
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

// Hit is one search result: the row position in insertion order and its score.
type Hit struct {
	Row   int
	Score float32
}

// Flat stores normalized rows in one contiguous slice.
type Flat struct {
	dim  int
	data []float32
}

// NewFlat creates an empty index for vectors of dim dimensions.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// NewFlatFrom builds an index from rows in order. Row i of the result is rows[i].
func NewFlatFrom(dim int, rows [][]float32) (*Flat, error) {
	f := &Flat{dim: dim, data: make([]float32, 0, dim*len(rows))}
	if err := f.AddBatch(rows); err != nil {
		return nil, err
	}
	return f, nil
}

// Dimension returns the configured vector width.
func (f *Flat) Dimension() int { return f.dim }

// Count returns the number of stored rows.
func (f *Flat) Count() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends one vector.
func (f *Flat) Add(v []float32) error {
	if len(v) != f.dim {
		return fmt.Errorf("%w: index has %d, got %d", domain.ErrVectorDimMismatch, f.dim, len(v))
	}
	f.data = append(f.data, v...)
	Normalize(f.data[len(f.data)-f.dim:])
	return nil
}

// AddBatch appends vectors in order. Nothing is added when any vector has the wrong width.
func (f *Flat) AddBatch(rows [][]float32) error {
	for i, v := range rows {
		if len(v) != f.dim {
			return fmt.Errorf("%w: row %d: index has %d, got %d", domain.ErrVectorDimMismatch, i, f.dim, len(v))
		}
	}
	for _, v := range rows {
		_ = f.Add(v)
	}
	return nil
}

// Row returns a copy of the normalized vector at position i.
func (f *Flat) Row(i int) []float32 {
	out := make([]float32, f.dim)
	copy(out, f.data[i*f.dim:(i+1)*f.dim])
	return out
}

// Search returns up to k hits ordered by descending score, ties by row.
func (f *Flat) Search(q []float32, k int) ([]Hit, error) {
	if len(q) != f.dim {
		return nil, fmt.Errorf("%w: index has %d, query has %d", domain.ErrVectorDimMismatch, f.dim, len(q))
	}
	n := f.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	query := make([]float32, f.dim)
	copy(query, q)
	Normalize(query)

	hits := make([]Hit, n)
	for i := range n {
		hits[i] = Hit{Row: i, Score: dot(f.data[i*f.dim:(i+1)*f.dim], query)}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return a.Row - b.Row
		}
	})
	if k < n {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops every row and keeps the dimension.
func (f *Flat) Reset() {
	f.data = f.data[:0]
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
