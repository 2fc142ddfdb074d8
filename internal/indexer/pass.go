package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hyperjump/ragindex/internal/keyword"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/tracker"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// PassOption configures one pass.
type PassOption func(*passOptions)

type passOptions struct {
	progress models.ProgressFunc
}

// WithProgress receives per-document progress.
func WithProgress(fn models.ProgressFunc) PassOption {
	return func(o *passOptions) { o.progress = fn }
}

// BuildOrUpdate brings the index in line with the source. If another pass is running
// it waits for it and then runs its own. A stored manifest that no longer matches the
// settings turns the pass into a full rebuild.
//
// Per-document and per-batch failures are collected in Report.Errors and do not fail
// the pass. Cancellation stops new batches, commits the documents already finished
// and returns the partial report with the context error.
func (m *Manager) BuildOrUpdate(ctx context.Context, opts ...PassOption) (*models.Report, error) {
	return m.guarded(ctx, false, opts)
}

// RebuildAll discards every record, the keyword index and the snapshot, rewrites the
// manifest from the active settings and re-indexes everything.
func (m *Manager) RebuildAll(ctx context.Context, opts ...PassOption) (*models.Report, error) {
	return m.guarded(ctx, true, opts)
}

func (m *Manager) guarded(ctx context.Context, rebuild bool, opts []PassOption) (*models.Report, error) {
	if m.closed.Load() {
		return nil, models.ErrClosed
	}
	if err := m.pass.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.pass.Release(1)
	if m.closed.Load() {
		return nil, models.ErrClosed
	}
	var po passOptions
	for _, opt := range opts {
		opt(&po)
	}
	m.running.Store(true)
	defer m.running.Store(false)

	p := &pass{
		m:      m,
		report: &models.Report{PassID: uuid.NewString()},
		opts:   po,
		start:  time.Now(),
	}
	if m.logger != nil {
		p.logger = m.logger.With(zap.String("pass_id", p.report.PassID))
	}
	err := p.run(ctx, rebuild)
	p.report.Duration = time.Since(p.start)

	m.mu.Lock()
	m.lastReport = p.report
	m.mu.Unlock()
	if p.logger != nil {
		fields := []zap.Field{
			zap.Bool("rebuilt", p.report.Rebuilt),
			zap.Int("created", p.report.Created),
			zap.Int("modified", p.report.Modified),
			zap.Int("deleted", p.report.Deleted),
			zap.Int("unchanged", p.report.Unchanged),
			zap.Int("skipped", p.report.Skipped),
			zap.Int("chunks_embedded", p.report.ChunksEmbedded),
			zap.Int("chunks_deleted", p.report.ChunksDeleted),
			zap.Int("embed_calls", p.report.EmbedCalls),
			zap.Duration("duration", p.report.Duration),
		}
		if err != nil {
			p.logger.Warn("index pass aborted", append(fields, zap.Error(err))...)
		} else {
			p.logger.Info("index pass finished", fields...)
		}
	}
	return p.report, err
}

// pass is the state of one BuildOrUpdate or RebuildAll run.
type pass struct {
	m        *Manager
	report   *models.Report
	opts     passOptions
	start    time.Time
	logger   *zap.Logger
	settings *versionedSettings
	backend  *vector.Backend
	manifest models.Manifest

	docs      []*docWork
	removed   []string
	processed int
	total     int
}

// docWork tracks one created or modified document through the pass.
type docWork struct {
	ref     models.DocumentRef
	pending int
	failed  bool
	done    bool
}

type queuedChunk struct {
	chunk *models.Chunk
	doc   *docWork
}

func (p *pass) progress(phase models.Phase) {
	if p.opts.progress != nil {
		p.opts.progress(models.Progress{Processed: p.processed, Total: p.total, Phase: phase})
	}
}

func (p *pass) warn(msg string, err error, fields ...zap.Field) {
	p.report.AddError(err)
	if p.logger != nil {
		p.logger.Warn(msg, append(fields, zap.Error(err))...)
	}
}

func (p *pass) run(ctx context.Context, rebuild bool) error {
	b, err := p.m.loader.Get(ctx)
	if err != nil {
		return err
	}
	p.backend = b
	p.settings = p.m.settings.Load()
	active := p.settings.Manifest()

	stored, err := b.State.LoadManifest(ctx)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	switch {
	case rebuild:
		p.manifest = active
	case stored == nil:
		p.manifest = active
		if err := p.saveManifest(ctx); err != nil {
			return err
		}
	case !stored.Matches(active):
		if p.logger != nil {
			p.logger.Info("manifest changed, rebuilding",
				zap.String("stored_model", stored.Model), zap.Int("stored_dimension", stored.Dimension),
				zap.String("stored_chunk_policy", stored.ChunkPolicy),
				zap.String("model", active.Model), zap.Int("dimension", active.Dimension),
				zap.String("chunk_policy", active.ChunkPolicy))
		}
		p.manifest = active
		rebuild = true
	default:
		p.manifest = *stored
		if p.manifest.Dimension == 0 && active.Dimension != 0 {
			p.manifest.Dimension = active.Dimension
			if err := p.saveManifest(ctx); err != nil {
				return err
			}
		}
	}
	if rebuild {
		if err := p.reset(ctx); err != nil {
			return err
		}
	}
	return p.update(ctx)
}

func (p *pass) saveManifest(ctx context.Context) error {
	p.manifest.UpdatedAt = time.Now().UTC()
	if err := p.backend.State.SaveManifest(ctx, p.manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// reset clears every record, index and snapshot entry and writes a fresh manifest.
func (p *pass) reset(ctx context.Context) error {
	p.report.Rebuilt = true
	p.progress(models.PhaseRebuilding)
	if err := p.backend.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if p.m.keyword != nil {
		if err := p.m.keyword.Reset(ctx); err != nil {
			return fmt.Errorf("reset keyword index: %w", err)
		}
	}
	if err := p.backend.State.ResetSnapshot(ctx); err != nil {
		return fmt.Errorf("reset snapshot: %w", err)
	}
	return p.saveManifest(ctx)
}

// update runs the incremental pass: scan, reconcile chunks, embed, commit.
func (p *pass) update(ctx context.Context) error {
	st := p.backend.State
	store := p.backend.Store

	snapshot, err := st.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	// Documents with records but no snapshot entry were cut short by an earlier pass.
	stored, err := store.DocumentPaths(ctx)
	if err != nil {
		return fmt.Errorf("list stored documents: %w", err)
	}
	for _, path := range stored {
		if _, ok := snapshot[path]; !ok {
			snapshot[path] = models.DocumentRef{Path: path}
		}
	}
	p.progress(models.PhaseScanning)
	diff, err := p.m.tracker.Scan(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	for _, e := range diff.Errors {
		p.report.Skipped++
		p.warn("document read failed", e)
	}
	p.report.Unchanged = diff.Unchanged
	p.report.Created = len(diff.Created)
	p.report.Modified = len(diff.Modified)
	p.total = len(diff.Created) + len(diff.Modified) + len(diff.Deleted)

	var queue []queuedChunk
	for _, ch := range append(append([]tracker.Change(nil), diff.Created...), diff.Modified...) {
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, diff, err)
		}
		q, err := p.reconcile(ctx, &ch)
		if err != nil {
			return p.finish(ctx, diff, err)
		}
		queue = append(queue, q...)
	}

	for _, ch := range diff.Deleted {
		ids, err := store.ChunkIDsByDocument(ctx, ch.Ref.Path)
		if err != nil {
			return p.finish(ctx, diff, fmt.Errorf("list chunks of %s: %w", ch.Ref.Path, err))
		}
		if err := p.deleteChunks(ctx, ids); err != nil {
			return p.finish(ctx, diff, err)
		}
		p.report.Deleted++
		p.removed = append(p.removed, ch.Ref.Path)
		p.processed++
		p.progress(models.PhaseChunking)
	}

	err = p.embed(ctx, queue)
	return p.finish(ctx, diff, err)
}

// reconcile reads, extracts and chunks one document, deletes its stale chunks and
// returns the chunks that still need vectors. Only the chunk texts outlive the call.
func (p *pass) reconcile(ctx context.Context, ch *tracker.Change) ([]queuedChunk, error) {
	path := ch.Ref.Path
	doc := &docWork{ref: ch.Ref}
	p.docs = append(p.docs, doc)
	data, err := p.m.tracker.Load(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		doc.failed = true
		p.report.Skipped++
		p.docFinished(doc)
		p.warn("document read failed", err, zap.String("path", path))
		return nil, nil
	}
	doc.ref = ch.Ref

	text, err := p.m.extractor.ExtractBytes(data, filepath.Ext(path))
	if err != nil {
		doc.failed = true
		p.report.Skipped++
		p.docFinished(doc)
		p.warn("extraction failed, document skipped", &models.ExtractionError{Path: path, Err: err}, zap.String("path", path))
		return nil, nil
	}
	chunks := p.settings.chunker.Chunk(path, text)

	existing, err := p.backend.Store.ChunkIDsByDocument(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list chunks of %s: %w", path, err)
	}
	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}
	want := make(map[string]bool, len(chunks))
	var queue []queuedChunk
	for _, c := range chunks {
		want[c.ID] = true
		if !have[c.ID] {
			queue = append(queue, queuedChunk{chunk: c, doc: doc})
		}
	}
	var stale []string
	for _, id := range existing {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	// Stale chunks go before any insertion for this document.
	if err := p.deleteChunks(ctx, stale); err != nil {
		return nil, err
	}
	doc.pending = len(queue)
	if doc.pending == 0 {
		p.docFinished(doc)
	}
	if p.logger != nil {
		p.logger.Debug("document reconciled", zap.String("path", path),
			zap.Int("chunks", len(chunks)), zap.Int("new", len(queue)), zap.Int("stale", len(stale)))
	}
	return queue, nil
}

func (p *pass) deleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.backend.Store.DeleteByChunkIDs(ctx, ids); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if p.m.keyword != nil {
		if err := p.m.keyword.Delete(ctx, ids); err != nil {
			p.warn("keyword delete failed", err)
		}
	}
	p.report.ChunksDeleted += len(ids)
	return nil
}

func (p *pass) docFinished(doc *docWork) {
	if doc.done {
		return
	}
	doc.done = true
	p.processed++
	p.progress(models.PhaseChunking)
}

// embed sends the queue to the embedder in batches and stores the vectors.
func (p *pass) embed(ctx context.Context, queue []queuedChunk) error {
	size := p.settings.BatchSize
	for batchNo, start := 0, 0; start < len(queue); batchNo, start = batchNo+1, start+size {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur := p.m.settings.Load(); cur.version != p.settings.version {
			return &models.ManifestConflictError{Active: p.manifest, Requested: cur.Manifest()}
		}
		end := start + size
		if end > len(queue) {
			end = len(queue)
		}
		if err := p.embedBatch(ctx, batchNo, queue[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// embedBatch returns an error only when the pass must stop.
func (p *pass) embedBatch(ctx context.Context, batchNo int, batch []queuedChunk) error {
	texts := make([]string, len(batch))
	for i, q := range batch {
		texts[i] = Preprocess(q.chunk.Text)
	}
	vecs, err := p.callEmbedder(ctx, texts)
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, q := range batch {
			q.doc.failed = true
		}
		p.settle(batch)
		p.warn("embedding batch failed", &models.EmbeddingBatchError{Batch: batchNo, Size: len(batch), Err: err},
			zap.Int("batch", batchNo))
		return nil
	}

	records := make([]*models.EmbeddingRecord, 0, len(batch))
	accepted := make([]queuedChunk, 0, len(batch))
	for i, q := range batch {
		vec := vecs[i]
		dim := len(vec)
		if !vector.DimensionAllowed(dim) {
			q.doc.failed = true
			p.warn("vector rejected", &models.DimensionMismatchError{Got: dim, ChunkID: q.chunk.ID},
				zap.String("path", q.chunk.DocumentPath))
			continue
		}
		if p.manifest.Dimension == 0 {
			p.manifest.Dimension = dim
			if err := p.saveManifest(ctx); err != nil {
				return err
			}
		} else if dim != p.manifest.Dimension {
			requested := p.manifest
			requested.Dimension = dim
			return &models.ManifestConflictError{Active: p.manifest, Requested: requested}
		}
		records = append(records, &models.EmbeddingRecord{
			ChunkID:      q.chunk.ID,
			Model:        p.manifest.Model,
			Dimension:    dim,
			Vector:       vec,
			DocumentPath: q.chunk.DocumentPath,
			ChunkIndex:   q.chunk.Index,
			Start:        q.chunk.Start,
			End:          q.chunk.End,
			Text:         q.chunk.Text,
			ContentHash:  q.doc.ref.ContentHash,
		})
		accepted = append(accepted, q)
	}

	if len(records) > 0 {
		p.progress(models.PhaseEmbedding)
		store := p.backend.Store
		err := store.EnsureIndex(ctx, p.manifest.Dimension)
		if err == nil {
			err = store.Upsert(ctx, records)
		}
		if err != nil {
			for _, q := range accepted {
				q.doc.failed = true
			}
			p.settle(batch)
			p.warn("store upsert failed", fmt.Errorf("upsert batch %d: %w", batchNo, err))
			return nil
		}
		p.report.ChunksEmbedded += len(records)
		if p.m.keyword != nil {
			kc := make([]keyword.Chunk, len(records))
			for i, r := range records {
				kc[i] = keyword.Chunk{ID: r.ChunkID, Path: r.DocumentPath, Text: r.Text}
			}
			if err := p.m.keyword.IndexChunks(ctx, kc); err != nil {
				p.warn("keyword index failed", err)
			}
		}
	}
	p.settle(batch)
	return nil
}

// callEmbedder runs one batch call with a timeout and retries.
func (p *pass) callEmbedder(ctx context.Context, texts []string) ([][]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, p.settings.EmbedTimeout)
	defer cancel()
	var out [][]float32
	op := func() error {
		p.report.EmbedCalls++
		vecs, err := p.settings.Embedder.EmbedBatch(cctx, texts)
		if err != nil {
			if cctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = vecs
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.settings.MaxRetries)), cctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// settle counts batch chunks off their documents.
func (p *pass) settle(batch []queuedChunk) {
	for _, q := range batch {
		q.doc.pending--
		if q.doc.pending == 0 {
			p.docFinished(q.doc)
		}
	}
}

// finish commits the snapshot for completed documents and flushes the store. It runs
// even when the pass stops early so finished work is not redone.
func (p *pass) finish(ctx context.Context, diff *tracker.Diff, cause error) error {
	cctx := context.WithoutCancel(ctx)
	p.progress(models.PhaseCommitting)

	refs := append([]models.DocumentRef(nil), diff.Touched...)
	for _, d := range p.docs {
		if d.done && !d.failed {
			refs = append(refs, d.ref)
		}
	}
	err := p.m.tracker.Commit(cctx, p.backend.State, refs, p.removed)
	if ferr := p.backend.Store.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("flush store: %w", ferr)
	}
	if cause != nil {
		return cause
	}
	return err
}
