// Package storage defines persistence interfaces for embedding records and index state.
package storage

import (
	"context"

	"github.com/hyperjump/ragindex/internal/models"
)

// RecordStore persists embedding records: the metadata table joined to every vector.
type RecordStore interface {
	// PutRecords inserts or replaces records keyed by (chunk ID, model). Each record is atomic.
	PutRecords(ctx context.Context, records []*models.EmbeddingRecord) error
	// DeleteRecords removes every record for the given chunk IDs and returns the removed
	// chunk IDs grouped by dimension.
	DeleteRecords(ctx context.Context, chunkIDs []string) (map[int][]string, error)
	GetRecords(ctx context.Context, chunkIDs []string) (map[string]*models.EmbeddingRecord, error)
	ChunkIDsByDocument(ctx context.Context, path string) ([]string, error)
	// DocumentPaths returns every document path that has at least one record, sorted.
	DocumentPaths(ctx context.Context) ([]string, error)
	// ListRecords returns all records of one dimension (0 = all), ordered by chunk ID.
	ListRecords(ctx context.Context, dimension int) ([]*models.EmbeddingRecord, error)
	RecordDimensions(ctx context.Context) ([]int, error)
	CountRecords(ctx context.Context) (int64, error)
	DeleteAllRecords(ctx context.Context) error
	Close() error
}

// StateStore persists the tracker snapshot and the index manifest.
type StateStore interface {
	// LoadSnapshot returns the document references recorded by the last successful pass, keyed by path.
	LoadSnapshot(ctx context.Context) (map[string]models.DocumentRef, error)
	// CommitSnapshot upserts refs and removes the given paths.
	CommitSnapshot(ctx context.Context, refs []models.DocumentRef, removed []string) error
	ResetSnapshot(ctx context.Context) error
	// LoadManifest returns nil, nil when no manifest has been written.
	LoadManifest(ctx context.Context) (*models.Manifest, error)
	SaveManifest(ctx context.Context, m models.Manifest) error
}
