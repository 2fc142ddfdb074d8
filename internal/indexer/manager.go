// Package indexer keeps a semantic index in step with a document source: it chunks
// and embeds changed documents, removes stale chunks and answers similarity queries.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/keyword"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/source"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/tracker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// SearchConfig tunes query handling.
type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
	// OverFetchFactor multiplies topK when filters may drop results.
	OverFetchFactor int
	// KeywordPrefilter routes MustMatch through the keyword index instead of a substring scan.
	KeywordPrefilter bool
	// Fuzziness allows MustMatch terms within this edit distance (keyword index only).
	Fuzziness     int
	SnippetLength int
	QueryTimeout  time.Duration
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = models.DefaultSearchLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = models.MaxSearchLimit
	}
	if c.OverFetchFactor < 1 {
		c.OverFetchFactor = 4
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = 240
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	return c
}

// Manager owns one index: its backend, keyword mirror, settings and pass guard.
type Manager struct {
	src       source.Source
	tracker   *tracker.Tracker
	extractor *extract.Extractor
	loader    *loader
	keyword   keyword.Index
	search    SearchConfig
	dataDir   string
	workers   int
	logger    *zap.Logger

	settings   atomic.Pointer[versionedSettings]
	settingsMu sync.Mutex

	// pass admits one BuildOrUpdate or RebuildAll at a time; later callers wait.
	pass    *semaphore.Weighted
	running atomic.Bool
	closed  atomic.Bool

	mu         sync.RWMutex
	lastReport *models.Report
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithKeywordIndex mirrors chunk text into idx and uses it for MustMatch filters.
func WithKeywordIndex(idx keyword.Index) ManagerOption {
	return func(m *Manager) { m.keyword = idx }
}

// WithSearchConfig sets query limits and filter behaviour.
func WithSearchConfig(c SearchConfig) ManagerOption {
	return func(m *Manager) { m.search = c }
}

// WithFallback sets the backend used when the primary cannot be opened.
func WithFallback(f BackendFactory) ManagerOption {
	return func(m *Manager) { m.loader.fallback = f }
}

// WithDegradedHandler is called once if the manager switches to the fallback store.
func WithDegradedHandler(fn func(error)) ManagerOption {
	return func(m *Manager) { m.loader.onDegraded = fn }
}

// WithDataDir is reported in Status together with its disk usage.
func WithDataDir(dir string) ManagerOption {
	return func(m *Manager) { m.dataDir = dir }
}

// WithWorkers bounds concurrent document reads during a scan.
func WithWorkers(n int) ManagerOption {
	return func(m *Manager) { m.workers = n }
}

// NewManager creates a manager over src. The backend is opened lazily by the first
// pass or query.
func NewManager(src source.Source, primary BackendFactory, settings Settings, opts ...ManagerOption) (*Manager, error) {
	if src == nil || primary == nil {
		return nil, fmt.Errorf("indexer: source and primary backend are required")
	}
	m := &Manager{
		src:       src,
		extractor: extract.NewExtractor(),
		loader:    newLoader(primary, nil, nil),
		pass:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loader.logger = m.logger
	m.search = m.search.withDefaults()
	m.tracker = tracker.New(src, tracker.WithWorkers(m.workers), tracker.WithLogger(m.logger))
	if err := m.UpdateSettings(settings); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateSettings installs new settings. The next pass compares them with the stored
// manifest; a pass already running aborts at its next batch boundary.
func (m *Manager) UpdateSettings(s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	s = s.withDefaults()
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	var version uint64 = 1
	if cur := m.settings.Load(); cur != nil {
		version = cur.version + 1
	}
	m.settings.Store(&versionedSettings{Settings: s, version: version, chunker: NewChunker(s.Policy)})
	if m.logger != nil {
		mf := s.Manifest()
		m.logger.Debug("settings updated", zap.Uint64("version", version),
			zap.String("model", mf.Model), zap.Int("dimension", mf.Dimension), zap.String("chunk_policy", mf.ChunkPolicy))
	}
	return nil
}

// Settings returns the active settings.
func (m *Manager) Settings() Settings {
	return m.settings.Load().Settings
}

// Source returns the document source.
func (m *Manager) Source() source.Source {
	return m.src
}

// Degraded reports whether the fallback store is serving, with the primary's error.
func (m *Manager) Degraded() (bool, error) {
	return m.loader.Degraded()
}

// Indexing reports whether a pass is running.
func (m *Manager) Indexing() bool {
	return m.running.Load()
}

// LastReport returns the report of the last finished pass, or nil.
func (m *Manager) LastReport() *models.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport
}

// Status describes the index for status endpoints.
type Status struct {
	State          string           `json:"state"`
	Backend        string           `json:"backend,omitempty"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
	Records        int64            `json:"records"`
	Dimensions     []int            `json:"dimensions"`
	KeywordChunks  uint64           `json:"keyword_chunks"`
	Manifest       *models.Manifest `json:"manifest,omitempty"`
	Indexing       bool             `json:"indexing"`
	LastReport     *models.Report   `json:"last_report,omitempty"`
	DataDir        string           `json:"data_dir,omitempty"`
	DiskUsageBytes int64            `json:"disk_usage_bytes"`
	// DiskUsage breaks DiskUsageBytes down by data directory entry.
	DiskUsage      map[string]int64 `json:"disk_usage,omitempty"`
}

// Status opens the backend if needed and reports its contents.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if m.closed.Load() {
		return nil, models.ErrClosed
	}
	b, err := m.loader.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
	}
	st := &Status{
		State:      m.loader.State().String(),
		Backend:    string(b.Kind),
		Degraded:   b.Degraded,
		Dimensions: b.Store.Dimensions(),
		Indexing:   m.Indexing(),
		LastReport: m.LastReport(),
		DataDir:    m.dataDir,
	}
	if _, reason := m.loader.Degraded(); reason != nil {
		st.DegradedReason = reason.Error()
	}
	if st.Records, err = b.Store.Count(ctx); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if st.Manifest, err = b.State.LoadManifest(ctx); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if m.keyword != nil {
		if n, err := m.keyword.DocCount(); err == nil {
			st.KeywordChunks = n
		}
	}
	if m.dataDir != "" {
		if usage, err := storage.DiskUsageByEntry(m.dataDir); err == nil {
			st.DiskUsage = usage
			for _, n := range usage {
				st.DiskUsageBytes += n
			}
		}
	}
	return st, nil
}

// Close waits for a running pass, then closes the backend and keyword index.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = m.pass.Acquire(context.Background(), 1)
	defer m.pass.Release(1)
	err := m.loader.Close()
	if m.keyword != nil {
		err = multierr.Append(err, m.keyword.Close())
	}
	return err
}
