// Package vector provides per-dimension similarity indexes and the record stores built on them.
package vector

import (
	"context"
	"sort"

	"github.com/hyperjump/ragindex/internal/models"
)

// AllowedDimensions is the fixed set of supported vector sizes.
var AllowedDimensions = []int{128, 256, 384, 512, 768, 1024, 1280, 1536, 1792}

// DimensionAllowed reports whether dim is a supported vector size.
func DimensionAllowed(dim int) bool {
	for _, d := range AllowedDimensions {
		if d == dim {
			return true
		}
	}
	return false
}

// Store holds embedding records and answers nearest-neighbor queries per dimension.
type Store interface {
	// EnsureIndex creates the index for dim if needed. Unsupported sizes return
	// *models.DimensionMismatchError.
	EnsureIndex(ctx context.Context, dim int) error
	// Upsert writes records; each goes into the index of its own dimension.
	Upsert(ctx context.Context, records []*models.EmbeddingRecord) error
	DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error
	// Query returns up to topK matches ordered by score descending, then chunk ID ascending.
	// A dimension with no index yields no matches.
	Query(ctx context.Context, dim int, vector []float32, topK int, opts ...QueryOption) ([]Match, error)
	ChunkIDsByDocument(ctx context.Context, path string) ([]string, error)
	// DocumentPaths lists the paths that have records, sorted.
	DocumentPaths(ctx context.Context) ([]string, error)
	Records(ctx context.Context, chunkIDs []string) (map[string]*models.EmbeddingRecord, error)
	// Dimensions lists the dimensions that have an index, ascending.
	Dimensions() []int
	Count(ctx context.Context) (int64, error)
	// Reset drops every record and index.
	Reset(ctx context.Context) error
	// Flush persists in-memory index state.
	Flush() error
	Close() error
}

// Match is one query hit with its exact cosine similarity in [-1, 1].
type Match struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type queryOptions struct {
	minScore *float64
}

// QueryOption configures Query.
type QueryOption func(*queryOptions)

// WithMinScore drops matches scoring below min.
func WithMinScore(min float64) QueryOption {
	return func(o *queryOptions) { o.minScore = &min }
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sortMatches orders by score descending, ties by chunk ID ascending.
func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Score != m[j].Score {
			return m[i].Score > m[j].Score
		}
		return m[i].ChunkID < m[j].ChunkID
	})
}

func checkDimension(dim int, chunkID string) error {
	if !DimensionAllowed(dim) {
		return &models.DimensionMismatchError{Got: dim, ChunkID: chunkID}
	}
	return nil
}
