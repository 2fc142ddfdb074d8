package vector

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/zap"
)

// FlatStore is the fallback Store: every record lives in memory and queries scan all
// vectors of the requested dimension. It also keeps the tracker snapshot and the
// manifest so a degraded process still indexes incrementally. State is persisted to a
// single gob file on Flush and Close.
type FlatStore struct {
	mu       sync.RWMutex
	path     string
	records  map[string]*models.EmbeddingRecord
	dims     map[int]struct{}
	snapshot map[string]models.DocumentRef
	manifest *models.Manifest
	dirty    bool
	closed   bool
	logger   *zap.Logger
}

var (
	_ Store              = (*FlatStore)(nil)
	_ storage.StateStore = (*FlatStore)(nil)
)

type flatFile struct {
	Records  []*models.EmbeddingRecord
	Dims     []int
	Snapshot map[string]models.DocumentRef
	Manifest *models.Manifest
}

// NewFlatStore loads the store from path (empty path keeps it in memory only).
// A missing file starts empty.
func NewFlatStore(path string, opts ...StoreOption) (*FlatStore, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &FlatStore{
		path:     path,
		records:  make(map[string]*models.EmbeddingRecord),
		dims:     make(map[int]struct{}),
		snapshot: make(map[string]models.DocumentRef),
		logger:   o.logger,
	}
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	defer f.Close()
	var ff flatFile
	if err := gob.NewDecoder(f).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode fallback store: %w", err)
	}
	for _, r := range ff.Records {
		s.records[r.ChunkID] = r
	}
	for _, d := range ff.Dims {
		s.dims[d] = struct{}{}
	}
	if ff.Snapshot != nil {
		s.snapshot = ff.Snapshot
	}
	s.manifest = ff.Manifest
	if s.logger != nil {
		s.logger.Debug("fallback store loaded", zap.String("path", path), zap.Int("records", len(s.records)))
	}
	return s, nil
}

// EnsureIndex registers dim.
func (s *FlatStore) EnsureIndex(_ context.Context, dim int) error {
	if err := checkDimension(dim, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	if _, ok := s.dims[dim]; !ok {
		s.dims[dim] = struct{}{}
		s.dirty = true
	}
	return nil
}

// Upsert stores copies of records, replacing any with the same chunk ID.
func (s *FlatStore) Upsert(_ context.Context, records []*models.EmbeddingRecord) error {
	for _, r := range records {
		if err := checkDimension(len(r.Vector), r.ChunkID); err != nil {
			return err
		}
		if r.Dimension != len(r.Vector) {
			return &models.DimensionMismatchError{Expected: r.Dimension, Got: len(r.Vector), ChunkID: r.ChunkID}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	for _, r := range records {
		cp := *r
		cp.Vector = append([]float32(nil), r.Vector...)
		s.records[r.ChunkID] = &cp
		s.dims[r.Dimension] = struct{}{}
	}
	s.dirty = s.dirty || len(records) > 0
	return nil
}

// DeleteByChunkIDs removes records by chunk ID.
func (s *FlatStore) DeleteByChunkIDs(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	for _, id := range chunkIDs {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			s.dirty = true
		}
	}
	return nil
}

// Query scans every record of dimension dim.
func (s *FlatStore) Query(_ context.Context, dim int, vector []float32, topK int, opts ...QueryOption) ([]Match, error) {
	o := applyQueryOptions(opts)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	if _, ok := s.dims[dim]; !ok || topK <= 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, &models.DimensionMismatchError{Expected: dim, Got: len(vector)}
	}
	var matches []Match
	for id, r := range s.records {
		if r.Dimension != dim {
			continue
		}
		score := CosineSimilarity(vector, r.Vector)
		if o.minScore != nil && score < *o.minScore {
			continue
		}
		matches = append(matches, Match{ChunkID: id, Score: score})
	}
	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ChunkIDsByDocument returns the sorted chunk IDs for path.
func (s *FlatStore) ChunkIDsByDocument(_ context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	var ids []string
	for id, r := range s.records {
		if r.DocumentPath == path {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DocumentPaths lists the sorted paths that have records.
func (s *FlatStore) DocumentPaths(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	seen := make(map[string]struct{})
	var paths []string
	for _, r := range s.records {
		if _, ok := seen[r.DocumentPath]; !ok {
			seen[r.DocumentPath] = struct{}{}
			paths = append(paths, r.DocumentPath)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Records returns copies of the requested records.
func (s *FlatStore) Records(_ context.Context, chunkIDs []string) (map[string]*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	out := make(map[string]*models.EmbeddingRecord, len(chunkIDs))
	for _, id := range chunkIDs {
		if r, ok := s.records[id]; ok {
			cp := *r
			out[id] = &cp
		}
	}
	return out, nil
}

// Dimensions lists registered dimensions.
func (s *FlatStore) Dimensions() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dims := make([]int, 0, len(s.dims))
	for d := range s.dims {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

// Count returns the number of records.
func (s *FlatStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Reset drops every record and dimension. Snapshot and manifest are StateStore concerns
// and are reset separately.
func (s *FlatStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	s.records = make(map[string]*models.EmbeddingRecord)
	s.dims = make(map[int]struct{})
	s.dirty = true
	return nil
}

// LoadSnapshot returns a copy of the committed snapshot.
func (s *FlatStore) LoadSnapshot(context.Context) (map[string]models.DocumentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.DocumentRef, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out, nil
}

// CommitSnapshot upserts refs and removes paths.
func (s *FlatStore) CommitSnapshot(_ context.Context, refs []models.DocumentRef, removed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	for _, r := range refs {
		s.snapshot[r.Path] = r
	}
	for _, p := range removed {
		delete(s.snapshot, p)
	}
	s.dirty = true
	return nil
}

// ResetSnapshot forgets every document.
func (s *FlatStore) ResetSnapshot(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = make(map[string]models.DocumentRef)
	s.dirty = true
	return nil
}

// LoadManifest returns the manifest or nil.
func (s *FlatStore) LoadManifest(context.Context) (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return nil, nil
	}
	m := *s.manifest
	return &m, nil
}

// SaveManifest replaces the manifest.
func (s *FlatStore) SaveManifest(_ context.Context, m models.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = &m
	s.dirty = true
	return nil
}

// Flush writes the store to its file with temp file + rename.
func (s *FlatStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FlatStore) flushLocked() error {
	if s.path == "" || !s.dirty {
		return nil
	}
	ff := flatFile{Snapshot: s.snapshot, Manifest: s.manifest}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ff.Records = append(ff.Records, s.records[id])
	}
	for d := range s.dims {
		ff.Dims = append(ff.Dims, d)
	}
	sort.Ints(ff.Dims)
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create fallback dir: %w", err)
	}
	start := time.Now()
	if err := writeAtomic(s.path, func(f *os.File) error { return gob.NewEncoder(f).Encode(ff) }); err != nil {
		return fmt.Errorf("write fallback store: %w", err)
	}
	s.dirty = false
	if s.logger != nil {
		s.logger.Debug("fallback store flushed", zap.String("path", s.path),
			zap.Int("records", len(ff.Records)), zap.Duration("duration", time.Since(start)))
	}
	return nil
}

// Close flushes and closes the store.
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}
