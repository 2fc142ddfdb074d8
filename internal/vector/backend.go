package vector

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Kind names the store implementation behind a Backend.
type Kind string

const (
	KindHNSW   Kind = "hnsw"
	KindQdrant Kind = "qdrant"
	KindFlat   Kind = "flat"
)

// Backend is an opened store together with the state store it shares a lifetime with.
type Backend struct {
	Store    Store
	State    storage.StateStore
	Kind     Kind
	Degraded bool

	closers []func() error
}

// Close closes the store and any shared connection.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	err := b.Store.Close()
	for _, c := range b.closers {
		err = multierr.Append(err, c())
	}
	return err
}

// PrimaryConfig describes the primary backend.
type PrimaryConfig struct {
	DatabasePath string
	Index        IndexConfig
}

// OpenPrimary opens SQLite records/state plus the configured ANN engine.
func OpenPrimary(ctx context.Context, cfg PrimaryConfig, logger *zap.Logger) (*Backend, error) {
	db, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if cfg.Index.Dir == "" && cfg.Index.Type != IndexTypeQdrant {
		cfg.Index.Dir = filepath.Join(filepath.Dir(cfg.DatabasePath), "indexes")
	}
	factory, closeFactory, err := NewIndexFactory(ctx, cfg.Index, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := NewIndexedStore(ctx, db, factory, WithLogger(logger))
	if err != nil {
		_ = closeFactory()
		_ = db.Close()
		return nil, err
	}
	kind := KindHNSW
	if cfg.Index.Type == IndexTypeQdrant {
		kind = KindQdrant
	}
	if logger != nil {
		logger.Info("vector store opened", zap.String("kind", string(kind)), zap.String("database", cfg.DatabasePath), zap.Ints("dimensions", store.Dimensions()))
	}
	return &Backend{Store: store, State: db, Kind: kind, closers: []func() error{closeFactory}}, nil
}

// OpenFallback opens the flat-file store at path.
func OpenFallback(_ context.Context, path string, logger *zap.Logger) (*Backend, error) {
	store, err := NewFlatStore(path, WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	return &Backend{Store: store, State: store, Kind: KindFlat, Degraded: true}, nil
}
