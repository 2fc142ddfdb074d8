package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/hyperjump/ragindex/internal/models"
	"go.uber.org/zap"
)

// HNSWConfig tunes the in-process graph.
type HNSWConfig struct {
	M        int
	EfSearch int
}

func (c HNSWConfig) withDefaults() HNSWConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
	return c
}

// HNSWIndex is an in-process HNSW graph (coder/hnsw) for one dimension.
//
// Deletion is lazy: removed or replaced IDs lose their key mapping but their nodes stay
// in the graph, because coder/hnsw misbehaves when the last node is deleted. Searches
// over-fetch by the number of orphaned nodes, and IndexedStore rebuilds the graph once
// orphans outnumber live IDs.
type HNSWIndex struct {
	mu      sync.RWMutex
	dim     int
	path    string
	cfg     HNSWConfig
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dirty   bool
	closed  bool
	logger  *zap.Logger
}

var _ Index = (*HNSWIndex)(nil)

type hnswMeta struct {
	Dimension int
	IDMap     map[string]uint64
	NextKey   uint64
}

// HNSWPath returns the graph file for dim under dir. The metadata file is the same path plus ".meta".
func HNSWPath(dir string, dim int) string {
	return filepath.Join(dir, fmt.Sprintf("hnsw-%d.graph", dim))
}

// NewHNSWIndex opens the graph for dim under dir. An absent, unreadable or mismatched
// file yields an empty index; the caller rebuilds it from records.
func NewHNSWIndex(dir string, dim int, cfg HNSWConfig, logger *zap.Logger) (*HNSWIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	idx := &HNSWIndex{
		dim:    dim,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
	if dir != "" {
		idx.path = HNSWPath(dir, dim)
	}
	idx.reset()
	if idx.path == "" {
		return idx, nil
	}
	if err := idx.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) && logger != nil {
			logger.Warn("hnsw index unreadable, will rebuild", zap.String("path", idx.path), zap.Error(err))
		}
		idx.reset()
	}
	return idx, nil
}

func (h *HNSWIndex) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = h.cfg.M
	g.EfSearch = h.cfg.EfSearch
	g.Ml = 0.25
	return g
}

func (h *HNSWIndex) reset() {
	h.graph = h.newGraph()
	h.idMap = make(map[string]uint64)
	h.keyMap = make(map[uint64]string)
	h.nextKey = 0
}

// Dimension returns the vector size of the index.
func (h *HNSWIndex) Dimension() int { return h.dim }

// Add inserts vectors. An existing ID is replaced by orphaning its old node.
func (h *HNSWIndex) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hnsw index: %w", models.ErrClosed)
	}
	for i, v := range vectors {
		if len(v) != h.dim {
			return fmt.Errorf("vector %s has dimension %d, index is %d", ids[i], len(v), h.dim)
		}
	}
	for i, id := range ids {
		if old, ok := h.idMap[id]; ok {
			delete(h.keyMap, old)
		}
		key := h.nextKey
		h.nextKey++
		h.graph.Add(hnsw.MakeNode(key, normalized(vectors[i])))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	h.dirty = len(ids) > 0 || h.dirty
	return nil
}

// Remove forgets ids. Unknown IDs are ignored.
func (h *HNSWIndex) Remove(_ context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hnsw index: %w", models.ErrClosed)
	}
	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
			h.dirty = true
		}
	}
	return nil
}

// Search returns up to k live IDs nearest to query.
func (h *HNSWIndex) Search(_ context.Context, query []float32, k int) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, fmt.Errorf("hnsw index: %w", models.ErrClosed)
	}
	if len(query) != h.dim {
		return nil, fmt.Errorf("query has dimension %d, index is %d", len(query), h.dim)
	}
	total := h.graph.Len()
	if k <= 0 || total == 0 || len(h.idMap) == 0 {
		return nil, nil
	}
	fetch := k + (total - len(h.idMap))
	if fetch > total {
		fetch = total
	}
	nodes := h.graph.Search(normalized(query), fetch)
	out := make([]string, 0, k)
	for _, n := range nodes {
		id, ok := h.keyMap[n.Key]
		if !ok {
			continue
		}
		out = append(out, id)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Len returns the number of live IDs.
func (h *HNSWIndex) Len(context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap), nil
}

// Contains reports whether id is live.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.idMap[id]
	return ok
}

// Orphans returns the number of graph nodes no longer mapped to an ID.
func (h *HNSWIndex) Orphans() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	return h.graph.Len() - len(h.idMap)
}

// Save writes the graph and its ID mapping with temp file + rename. It is a no-op
// when nothing changed or the index has no path.
func (h *HNSWIndex) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.path == "" || !h.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := writeAtomic(h.path, func(f *os.File) error { return h.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	meta := hnswMeta{Dimension: h.dim, IDMap: h.idMap, NextKey: h.nextKey}
	if err := writeAtomic(h.path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	h.dirty = false
	if h.logger != nil {
		h.logger.Debug("hnsw index saved", zap.String("path", h.path), zap.Int("ids", len(h.idMap)), zap.Int("nodes", h.graph.Len()))
	}
	return nil
}

func (h *HNSWIndex) load() error {
	mf, err := os.Open(h.path + ".meta")
	if err != nil {
		return err
	}
	var meta hnswMeta
	decErr := gob.NewDecoder(mf).Decode(&meta)
	_ = mf.Close()
	if decErr != nil {
		return fmt.Errorf("decode metadata: %w", decErr)
	}
	if meta.Dimension != h.dim {
		return fmt.Errorf("metadata dimension %d, want %d", meta.Dimension, h.dim)
	}
	gf, err := os.Open(h.path)
	if err != nil {
		return err
	}
	defer gf.Close()
	graph := h.newGraph()
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	h.graph = graph
	h.idMap = meta.IDMap
	if h.idMap == nil {
		h.idMap = make(map[string]uint64)
	}
	h.keyMap = make(map[uint64]string, len(h.idMap))
	for id, key := range h.idMap {
		h.keyMap[key] = id
	}
	h.nextKey = meta.NextKey
	return nil
}

// Drop clears the graph and deletes its files.
func (h *HNSWIndex) Drop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
	h.dirty = false
	if h.path == "" {
		return nil
	}
	for _, p := range []string{h.path, h.path + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close releases the graph. Unsaved changes are lost; call Save first.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}

// writeAtomic writes path through a temp file and rename.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
