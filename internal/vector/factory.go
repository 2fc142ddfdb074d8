package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// IndexType represents the ANN engine behind the primary store.
type IndexType string

const (
	// IndexTypeHNSW uses the in-process coder/hnsw graph, persisted under the index directory.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeQdrant uses one collection per dimension on a Qdrant server.
	IndexTypeQdrant IndexType = "qdrant"
)

// IndexFactory opens the index for one dimension.
type IndexFactory func(ctx context.Context, dim int) (Index, error)

// IndexConfig selects and configures the ANN engine.
type IndexConfig struct {
	Type   IndexType
	Dir    string // HNSW files; empty keeps graphs in memory only
	HNSW   HNSWConfig
	Qdrant QdrantConfig
}

// NewIndexFactory returns a factory for cfg.Type ("" defaults to hnsw) and a close
// function for any shared connection.
func NewIndexFactory(ctx context.Context, cfg IndexConfig, logger *zap.Logger) (IndexFactory, func() error, error) {
	switch cfg.Type {
	case IndexTypeHNSW, "":
		factory := func(_ context.Context, dim int) (Index, error) {
			return NewHNSWIndex(cfg.Dir, dim, cfg.HNSW, logger)
		}
		return factory, func() error { return nil }, nil
	case IndexTypeQdrant:
		client, err := DialQdrant(ctx, cfg.Qdrant, logger)
		if err != nil {
			return nil, nil, err
		}
		factory := func(ctx context.Context, dim int) (Index, error) {
			return client.Index(ctx, dim)
		}
		return factory, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index type: %s (supported: hnsw, qdrant)", cfg.Type)
	}
}
