package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragindex/pkg/utils"
)

// HashEmbedder embeds text offline by feature hashing: every normalized word adds a
// signed unit to one of dim buckets. Texts sharing words get similar vectors and
// identical texts get identical ones, which is enough for tests and for running
// without a model.
type HashEmbedder struct {
	dimensions int
	name       string
}

// NewHashEmbedder returns a hash embedder with the given dimensions (384 when <= 0).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions, name: fmt.Sprintf("hash-%d", dimensions)}
}

// Embed hashes the words of text into a unit vector. Text without words maps to a
// fixed bucket so the vector is never zero.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := NormalizedWords(text)
	if len(words) == 0 {
		emb[0] = 1
		return emb, nil
	}
	for _, w := range words {
		h := wordHash(w)
		sign := float32(1)
		if h&(1<<63) != 0 {
			sign = -1
		}
		emb[h%uint64(e.dimensions)] += sign
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns "hash-<dimensions>".
func (e *HashEmbedder) ModelName() string {
	return e.name
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
