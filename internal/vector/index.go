package vector

import "context"

// Index is an approximate nearest-neighbor index over vectors of one dimension, keyed by
// chunk ID. It only produces candidates; IndexedStore rescores them from stored vectors.
type Index interface {
	Dimension() int
	// Add inserts or replaces vectors.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Remove(ctx context.Context, ids []string) error
	// Search returns up to k candidate IDs, nearest first.
	Search(ctx context.Context, query []float32, k int) ([]string, error)
	// Len returns the number of live vectors.
	Len(ctx context.Context) (int, error)
	// Save persists the index. Remote indexes treat it as a no-op.
	Save() error
	// Drop deletes the index and its persisted state.
	Drop(ctx context.Context) error
	Close() error
}

// localIndex is implemented by in-process indexes that can check membership cheaply.
// IndexedStore uses it to verify a loaded index against the record table.
type localIndex interface {
	Contains(id string) bool
}

// compactable is implemented by indexes that keep removed vectors as orphaned nodes
// until they are rebuilt.
type compactable interface {
	Orphans() int
}
