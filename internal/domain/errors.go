package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing knowledge base document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyContent signals a document without indexable text.
	ErrEmptyContent = errors.New("empty content")
	// ErrInvalidSourceType signals an unknown document source type.
	ErrInvalidSourceType = errors.New("invalid source type")
	// ErrUnsupportedFormat signals a file or response format the ingester cannot read.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrContentTooLarge signals content over the ingestion size limit.
	ErrContentTooLarge = errors.New("content too large")

	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrPersistence signals a failed write or read against the persistence adapter.
	ErrPersistence = errors.New("persistence failure")
	// ErrPersistenceDisabled signals an operation that needs a persistence adapter.
	ErrPersistenceDisabled = errors.New("persistence disabled")
	// ErrInvariantViolation signals entries, vector rows and index items drifted apart.
	ErrInvariantViolation = errors.New("invariant violation")
)

// AlignmentError describes a detected drift between a store's parallel collections.
type AlignmentError struct {
	Store     string
	Entries   int
	Rows      int
	IndexSize int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s: %s: entries=%d rows=%d index=%d",
		ErrInvariantViolation.Error(), e.Store, e.Entries, e.Rows, e.IndexSize)
}

func (e *AlignmentError) Unwrap() error { return ErrInvariantViolation }

// CheckAlignment returns an AlignmentError unless all three counts agree.
func CheckAlignment(store string, entries, rows, indexSize int) error {
	if entries == rows && rows == indexSize {
		return nil
	}
	return &AlignmentError{Store: store, Entries: entries, Rows: rows, IndexSize: indexSize}
}
