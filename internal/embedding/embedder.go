// Package embedding turns chunk text into vectors. Backends are selected once by New
// and always wrapped in a CachedEmbedder.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the configured output size, or 0 when only the first response
	// reveals it.
	Dimensions() int
	// ModelName identifies the model in manifests and cache keys.
	ModelName() string
	Close() error
}
