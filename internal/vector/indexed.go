package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// minCandidates is the smallest ANN candidate set fetched before exact rescoring.
const minCandidates = 32

// IndexedStore is the primary Store: a record table for metadata and vectors plus one
// ANN index per dimension. The record table is the source of truth; indexes are
// rebuilt from it whenever they are missing or out of step.
type IndexedStore struct {
	mu      sync.RWMutex
	records storage.RecordStore
	factory IndexFactory
	indexes map[int]Index
	closed  bool
	logger  *zap.Logger
}

var _ Store = (*IndexedStore)(nil)

// StoreOption configures a store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) StoreOption {
	return func(o *storeOptions) { o.logger = l }
}

// NewIndexedStore opens an index for every dimension present in records, rebuilding
// any index that does not match the records exactly.
func NewIndexedStore(ctx context.Context, records storage.RecordStore, factory IndexFactory, opts ...StoreOption) (*IndexedStore, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &IndexedStore{
		records: records,
		factory: factory,
		indexes: make(map[int]Index),
		logger:  o.logger,
	}
	dims, err := records.RecordDimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list record dimensions: %w", err)
	}
	for _, dim := range dims {
		if !DimensionAllowed(dim) {
			if s.logger != nil {
				s.logger.Warn("ignoring records with unsupported dimension", zap.Int("dimension", dim))
			}
			continue
		}
		idx, err := s.openVerified(ctx, dim)
		if err != nil {
			_ = s.closeIndexes()
			return nil, err
		}
		s.indexes[dim] = idx
	}
	return s, nil
}

// openVerified opens the index for dim and rebuilds it when it disagrees with the records.
func (s *IndexedStore) openVerified(ctx context.Context, dim int) (Index, error) {
	idx, err := s.factory(ctx, dim)
	if err != nil {
		return nil, fmt.Errorf("open index for dimension %d: %w", dim, err)
	}
	recs, err := s.records.ListRecords(ctx, dim)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("list records for dimension %d: %w", dim, err)
	}
	n, err := idx.Len(ctx)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("inspect index for dimension %d: %w", dim, err)
	}
	stale := n != len(recs) || overgrown(idx, n)
	if li, ok := idx.(localIndex); ok && !stale {
		for _, r := range recs {
			if !li.Contains(r.ChunkID) {
				stale = true
				break
			}
		}
	}
	if !stale {
		return idx, nil
	}
	if s.logger != nil {
		s.logger.Info("rebuilding vector index from records",
			zap.Int("dimension", dim), zap.Int("index_len", n), zap.Int("records", len(recs)))
	}
	if err := idx.Drop(ctx); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("drop stale index for dimension %d: %w", dim, err)
	}
	_ = idx.Close()
	idx, err = s.factory(ctx, dim)
	if err != nil {
		return nil, fmt.Errorf("recreate index for dimension %d: %w", dim, err)
	}
	ids := make([]string, len(recs))
	vecs := make([][]float32, len(recs))
	for i, r := range recs {
		ids[i] = r.ChunkID
		vecs[i] = r.Vector
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("rebuild index for dimension %d: %w", dim, err)
	}
	if err := idx.Save(); err != nil && s.logger != nil {
		s.logger.Warn("failed to save rebuilt index", zap.Int("dimension", dim), zap.Error(err))
	}
	return idx, nil
}

// EnsureIndex creates the index for dim if it does not exist.
func (s *IndexedStore) EnsureIndex(ctx context.Context, dim int) error {
	if err := checkDimension(dim, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	return s.ensureLocked(ctx, dim)
}

func (s *IndexedStore) ensureLocked(ctx context.Context, dim int) error {
	if _, ok := s.indexes[dim]; ok {
		return nil
	}
	idx, err := s.factory(ctx, dim)
	if err != nil {
		return fmt.Errorf("create index for dimension %d: %w", dim, err)
	}
	s.indexes[dim] = idx
	if s.logger != nil {
		s.logger.Debug("vector index created", zap.Int("dimension", dim))
	}
	return nil
}

// Upsert commits the record rows first, then adds each vector to its dimension's index.
// When an index rejects a batch, the rows that batch inserted are deleted again so the
// chunks read as missing and are embedded on the next pass.
func (s *IndexedStore) Upsert(ctx context.Context, records []*models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		if err := checkDimension(len(r.Vector), r.ChunkID); err != nil {
			return err
		}
		if r.Dimension != len(r.Vector) {
			return &models.DimensionMismatchError{Expected: r.Dimension, Got: len(r.Vector), ChunkID: r.ChunkID}
		}
		ids[i] = r.ChunkID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	prior, err := s.records.GetRecords(ctx, ids)
	if err != nil {
		return fmt.Errorf("load existing records: %w", err)
	}
	if err := s.records.PutRecords(ctx, records); err != nil {
		return fmt.Errorf("put records: %w", err)
	}
	byDim := make(map[int][]*models.EmbeddingRecord)
	for _, r := range records {
		byDim[r.Dimension] = append(byDim[r.Dimension], r)
	}
	for dim, recs := range byDim {
		if err := s.addLocked(ctx, dim, recs); err != nil {
			s.rollbackLocked(ctx, dim, recs, prior)
			return err
		}
	}
	return nil
}

func (s *IndexedStore) addLocked(ctx context.Context, dim int, recs []*models.EmbeddingRecord) error {
	if err := s.ensureLocked(ctx, dim); err != nil {
		return err
	}
	ids := make([]string, len(recs))
	vecs := make([][]float32, len(recs))
	for i, r := range recs {
		ids[i] = r.ChunkID
		vecs[i] = r.Vector
	}
	if err := s.indexes[dim].Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("index vectors (dimension %d): %w", dim, err)
	}
	return nil
}

// rollbackLocked deletes the rows of recs that did not exist before the failed Upsert.
func (s *IndexedStore) rollbackLocked(ctx context.Context, dim int, recs []*models.EmbeddingRecord, prior map[string]*models.EmbeddingRecord) {
	var fresh []string
	for _, r := range recs {
		if _, ok := prior[r.ChunkID]; !ok {
			fresh = append(fresh, r.ChunkID)
		}
	}
	if len(fresh) == 0 {
		return
	}
	cctx := context.WithoutCancel(ctx)
	_, err := s.records.DeleteRecords(cctx, fresh)
	if idx, ok := s.indexes[dim]; ok {
		// A partial Add may have inserted some of them.
		err = multierr.Append(err, idx.Remove(cctx, fresh))
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("failed to roll back records after index error",
			zap.Int("dimension", dim), zap.Int("records", len(fresh)), zap.Error(err))
	}
}

// DeleteByChunkIDs removes records and their vectors. Unknown IDs are ignored.
func (s *IndexedStore) DeleteByChunkIDs(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	removed, err := s.records.DeleteRecords(ctx, chunkIDs)
	if err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	for dim, ids := range removed {
		idx, ok := s.indexes[dim]
		if !ok {
			continue
		}
		if err := idx.Remove(ctx, ids); err != nil {
			return fmt.Errorf("remove vectors (dimension %d): %w", dim, err)
		}
	}
	return nil
}

// Query fetches ANN candidates, rescores them with exact cosine against the stored
// vectors and returns the best topK.
func (s *IndexedStore) Query(ctx context.Context, dim int, vector []float32, topK int, opts ...QueryOption) ([]Match, error) {
	o := applyQueryOptions(opts)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	idx, ok := s.indexes[dim]
	if !ok || topK <= 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, &models.DimensionMismatchError{Expected: dim, Got: len(vector)}
	}
	k := topK * 2
	if k < minCandidates {
		k = minCandidates
	}
	ids, err := idx.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index (dimension %d): %w", dim, err)
	}
	recs, err := s.records.GetRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate records: %w", err)
	}
	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		r, ok := recs[id]
		if !ok || r.Dimension != dim {
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

// ChunkIDsByDocument returns the chunk IDs stored for path.
func (s *IndexedStore) ChunkIDsByDocument(ctx context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	return s.records.ChunkIDsByDocument(ctx, path)
}

// DocumentPaths lists the paths that have records.
func (s *IndexedStore) DocumentPaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	return s.records.DocumentPaths(ctx)
}

// Records returns the records for chunkIDs; missing IDs are absent.
func (s *IndexedStore) Records(ctx context.Context, chunkIDs []string) (map[string]*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, models.ErrClosed
	}
	return s.records.GetRecords(ctx, chunkIDs)
}

// Dimensions lists the dimensions that have an index.
func (s *IndexedStore) Dimensions() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dims := make([]int, 0, len(s.indexes))
	for d := range s.indexes {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

// Count returns the number of records.
func (s *IndexedStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, models.ErrClosed
	}
	return s.records.CountRecords(ctx)
}

// Reset drops every index and record.
func (s *IndexedStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	var errs error
	for dim, idx := range s.indexes {
		errs = multierr.Append(errs, idx.Drop(ctx))
		errs = multierr.Append(errs, idx.Close())
		delete(s.indexes, dim)
	}
	if errs != nil {
		return fmt.Errorf("drop indexes: %w", errs)
	}
	if err := s.records.DeleteAllRecords(ctx); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

// Flush saves every index. An index holding more orphaned nodes than live vectors is
// rebuilt from the records first.
func (s *IndexedStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	ctx := context.Background()
	var errs error
	for dim, idx := range s.indexes {
		if n, err := idx.Len(ctx); err == nil && overgrown(idx, n) {
			if err := s.compactLocked(ctx, dim, idx); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
		}
		errs = multierr.Append(errs, idx.Save())
	}
	return errs
}

func overgrown(idx Index, live int) bool {
	c, ok := idx.(compactable)
	return ok && c.Orphans() > live
}

// compactLocked clears idx in place and refills it from the record table.
func (s *IndexedStore) compactLocked(ctx context.Context, dim int, idx Index) error {
	recs, err := s.records.ListRecords(ctx, dim)
	if err != nil {
		return fmt.Errorf("list records for dimension %d: %w", dim, err)
	}
	orphans := idx.(compactable).Orphans()
	if err := idx.Drop(ctx); err != nil {
		return fmt.Errorf("drop index for dimension %d: %w", dim, err)
	}
	ids := make([]string, len(recs))
	vecs := make([][]float32, len(recs))
	for i, r := range recs {
		ids[i] = r.ChunkID
		vecs[i] = r.Vector
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("compact index for dimension %d: %w", dim, err)
	}
	if s.logger != nil {
		s.logger.Info("vector index compacted",
			zap.Int("dimension", dim), zap.Int("records", len(recs)), zap.Int("orphans", orphans))
	}
	return nil
}

// Close saves and closes the indexes, then the record store.
func (s *IndexedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs error
	for _, idx := range s.indexes {
		errs = multierr.Append(errs, idx.Save())
	}
	errs = multierr.Append(errs, s.closeIndexes())
	return multierr.Append(errs, s.records.Close())
}

func (s *IndexedStore) closeIndexes() error {
	var errs error
	for dim, idx := range s.indexes {
		errs = multierr.Append(errs, idx.Close())
		delete(s.indexes, dim)
	}
	return errs
}
