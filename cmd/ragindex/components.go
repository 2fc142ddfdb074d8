package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/keyword"
	"github.com/hyperjump/ragindex/internal/source"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Components holds everything opened for a data directory: its lock, the index
// manager and the source the manager reads from.
type Components struct {
	Manager  *indexer.Manager
	Source   *source.DirectorySource
	Embedder *embedding.CachedEmbedder

	registry *indexer.Registry
	lock     *storage.DataDirLock
}

// Close closes the manager and releases the data directory lock.
func (c *Components) Close() error {
	err := c.registry.CloseAll()
	if c.Embedder != nil {
		err = multierr.Append(err, c.Embedder.Close())
	}
	return multierr.Append(err, c.lock.Unlock())
}

// initializeComponents locks the data directory and builds the manager for roots.
// It returns storage.ErrLocked when another process holds the directory.
func initializeComponents(cfg *config.Config, roots []string, logger *zap.Logger) (*Components, error) {
	lock, err := storage.LockDataDir(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	c := &Components{registry: indexer.NewRegistry(), lock: lock}
	mgr, err := c.registry.GetOrCreate(cfg.Storage.DataDir, func() (*indexer.Manager, error) {
		return newManager(cfg, roots, c, logger)
	})
	if err != nil {
		if c.Embedder != nil {
			_ = c.Embedder.Close()
		}
		_ = lock.Unlock()
		return nil, err
	}
	c.Manager = mgr
	logger.Debug("components initialized",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("model", c.Embedder.ModelName()),
		zap.Strings("roots", c.Source.Roots()))
	return c, nil
}

func newManager(cfg *config.Config, roots []string, c *Components, logger *zap.Logger) (*indexer.Manager, error) {
	emb, err := embedding.New(embeddingConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.Embedder = emb
	c.Source = source.NewDirectorySource(roots,
		source.WithExtensions(cfg.Watch.Extensions),
		source.WithRecursive(cfg.Watch.RecursiveOrDefault()),
		source.WithExclude(cfg.Storage.DataDir),
		source.WithLogger(logger),
	)

	opts := []indexer.ManagerOption{
		indexer.WithLogger(logger),
		indexer.WithSearchConfig(indexer.SearchConfig{
			DefaultLimit:     cfg.Search.DefaultLimit,
			MaxLimit:         cfg.Search.MaxLimit,
			OverFetchFactor:  cfg.Search.OverFetchFactor,
			KeywordPrefilter: cfg.Search.KeywordPrefilterOrDefault(),
		}),
		indexer.WithFallback(func(ctx context.Context) (*vector.Backend, error) {
			return vector.OpenFallback(ctx, cfg.Storage.FallbackPath, logger)
		}),
		indexer.WithDegradedHandler(func(err error) {
			logger.Warn("primary vector store unavailable, serving from fallback store", zap.Error(err))
		}),
		indexer.WithDataDir(cfg.Storage.DataDir),
	}
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordPath(), logger)
	if err != nil {
		logger.Warn("keyword index unavailable, must_match filters use plain text matching", zap.Error(err))
	} else {
		opts = append(opts, indexer.WithKeywordIndex(kw))
	}

	settings := indexer.Settings{
		Embedder:     emb,
		Policy:       indexer.ChunkPolicy{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap},
		BatchSize:    cfg.Embedding.BatchSize,
		EmbedTimeout: cfg.Embedding.Timeout,
		MaxRetries:   cfg.Embedding.Retries(),
	}
	mgr, err := indexer.NewManager(c.Source, primaryFactory(cfg, logger), settings, opts...)
	if err != nil {
		if kw != nil {
			_ = kw.Close()
		}
		return nil, err
	}
	return mgr, nil
}

func embeddingConfig(cfg *config.Config) embedding.Config {
	e := cfg.Embedding
	return embedding.Config{
		Provider:   embedding.Provider(e.Provider),
		Model:      e.Model,
		Dimensions: e.Dimensions,
		ModelPath:  e.ModelPath,
		MaxTokens:  e.MaxTokens,
		CacheSize:  e.CacheSize,
		MaxRetries: e.Retries(),
		BaseURL:    e.BaseURL,
		APIKeyEnv:  e.APIKeyEnv,
	}
}

func primaryFactory(cfg *config.Config, logger *zap.Logger) indexer.BackendFactory {
	s := cfg.Storage
	return func(ctx context.Context) (*vector.Backend, error) {
		return vector.OpenPrimary(ctx, vector.PrimaryConfig{
			DatabasePath: s.DatabasePath,
			Index: vector.IndexConfig{
				Type: vector.IndexType(s.Backend),
				Dir:  s.IndexDir(),
				HNSW: vector.HNSWConfig{M: s.HNSW.M, EfSearch: s.HNSW.EfSearch},
				Qdrant: vector.QdrantConfig{
					Host:             s.Qdrant.Host,
					Port:             s.Qdrant.Port,
					CollectionPrefix: s.Qdrant.CollectionPrefix,
				},
			},
		}, logger)
	}
}
