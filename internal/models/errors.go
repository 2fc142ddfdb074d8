package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSearchUnavailable is returned when the vector store cannot serve a query.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrClosed is returned by operations on a closed store or manager.
	ErrClosed = errors.New("closed")
	// ErrInvalidQuery wraps search query validation failures.
	ErrInvalidQuery = errors.New("invalid query")
)

// ExtractionError means text extraction failed for one document. The document is skipped.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingBatchError means one embedding batch failed or timed out.
// Its chunks stay unindexed and are retried on the next pass.
type EmbeddingBatchError struct {
	Batch int
	Size  int
	Err   error
}

func (e *EmbeddingBatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (%d chunks): %v", e.Batch, e.Size, e.Err)
}

func (e *EmbeddingBatchError) Unwrap() error { return e.Err }

// StoreInitializationError means the primary store could not be opened.
type StoreInitializationError struct {
	Backend string
	Err     error
}

func (e *StoreInitializationError) Error() string {
	return fmt.Sprintf("initialize %s store: %v", e.Backend, e.Err)
}

func (e *StoreInitializationError) Unwrap() error { return e.Err }

// DimensionMismatchError means a vector's dimension does not fit the expected index.
// Only the offending record is rejected.
type DimensionMismatchError struct {
	Expected int // 0 when the dimension is outside the supported set
	Got      int
	ChunkID  string
}

func (e *DimensionMismatchError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("unsupported vector dimension %d (chunk %q)", e.Got, e.ChunkID)
	}
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d (chunk %q)", e.Expected, e.Got, e.ChunkID)
}

// ManifestConflictError means the active model changed while a pass was running.
// The pass is aborted and a rebuild is required.
type ManifestConflictError struct {
	Active    Manifest
	Requested Manifest
}

func (e *ManifestConflictError) Error() string {
	return fmt.Sprintf("manifest conflict: index is %s/%d, pass produced %s/%d; rebuild required",
		e.Active.Model, e.Active.Dimension, e.Requested.Model, e.Requested.Dimension)
}
