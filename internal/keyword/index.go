// Package keyword keeps a full-text index of chunk text. It backs the MustMatch
// result filter; vector similarity stays the only ranking signal.
package keyword

import "context"

// Chunk is the unit stored in the keyword index.
type Chunk struct {
	ID   string
	Path string
	Text string
}

// FilterOptions tune Filter. Nil means exact term matching.
type FilterOptions struct {
	// Fuzziness is the maximum edit distance per term (0 disables fuzzy matching, max 2).
	Fuzziness int
}

// Index is the chunk-level keyword index.
type Index interface {
	// IndexChunks adds or replaces chunks by ID.
	IndexChunks(ctx context.Context, chunks []Chunk) error
	// Delete removes chunks by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Filter returns the subset of candidates whose text contains every term of query.
	Filter(ctx context.Context, query string, candidates []string, opts *FilterOptions) (map[string]bool, error)
	// Reset removes every chunk.
	Reset(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}
