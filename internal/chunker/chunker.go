// Package chunker splits text into fixed-size overlapping character windows.
package chunker

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default number of characters shared by neighbouring chunks.
const DefaultChunkOverlap = 50

// Span is one window of the input. Start and End are rune offsets, End exclusive.
type Span struct {
	Index   int
	Start   int
	End     int
	Content string
}

// Window is a fixed-size chunker.
type Window struct {
	size    int
	overlap int
}

// Option configures a Window.
type Option func(*Window)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(w *Window) {
		if size > 0 {
			w.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(w *Window) {
		if overlap >= 0 {
			w.overlap = overlap
		}
	}
}

// New creates a chunker. An overlap not smaller than the size is clamped to size/4.
func New(opts ...Option) *Window {
	w := &Window{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(w)
	}
	if w.overlap >= w.size {
		w.overlap = w.size / 4
	}
	return w
}

// Size returns the chunk size.
func (w *Window) Size() int { return w.size }

// Overlap returns the chunk overlap.
func (w *Window) Overlap() int { return w.overlap }

// Split cuts text into windows of Size runes stepping by Size-Overlap.
// Text no longer than Size yields one span; empty text yields none.
// The last window ends exactly at the end of the text.
func (w *Window) Split(text string) []Span {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= w.size {
		return []Span{{Index: 0, Start: 0, End: n, Content: text}}
	}

	step := w.size - w.overlap
	spans := make([]Span, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+w.size, n)
		spans = append(spans, Span{
			Index:   len(spans),
			Start:   start,
			End:     end,
			Content: string(runes[start:end]),
		})
		if end >= n {
			break
		}
	}
	return spans
}
