package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/ragindex/internal/keyword"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/search"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// Search embeds the query once and returns the closest chunks of the active
// dimension. Filters are applied after ranking; the store is asked for more
// candidates until enough survive or it runs out.
//
// A store that cannot answer yields ErrSearchUnavailable, so an empty result always
// means no match.
func (m *Manager) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if m.closed.Load() {
		return nil, models.ErrClosed
	}
	start := time.Now()
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", models.ErrInvalidQuery)
	}
	if err := q.Validate(m.search.DefaultLimit, m.search.MaxLimit); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidQuery, err)
	}

	b, err := m.loader.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
	}
	manifest, err := b.State.LoadManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load manifest: %w", models.ErrSearchUnavailable, err)
	}

	settings := m.settings.Load()
	qctx, cancel := context.WithTimeout(ctx, m.search.QueryTimeout)
	vec, err := settings.Embedder.Embed(qctx, q.Query)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: embed query: %w", models.ErrSearchUnavailable, err)
	}
	dim := len(vec)
	if manifest != nil && manifest.Dimension != 0 && manifest.Dimension != dim {
		return nil, &models.DimensionMismatchError{Expected: manifest.Dimension, Got: dim}
	}

	results, err := m.collect(ctx, b.Store, dim, vec, q)
	if err != nil {
		return nil, err
	}
	total := len(results)
	results = search.Rank(results, q.Limit)
	for _, r := range results {
		r.Snippet = search.Highlight(r.Text, q.Query, m.search.SnippetLength)
	}

	resp := &models.SearchResponse{
		Results:   results,
		Total:     total,
		QueryTime: time.Since(start).Milliseconds(),
		Query:     q.Query,
		Dimension: dim,
		Degraded:  b.Degraded,
	}
	if manifest != nil {
		resp.Model = manifest.Model
	}
	if m.logger != nil {
		m.logger.Debug("search", zap.String("query", q.Query), zap.Int("results", len(results)),
			zap.Int("dimension", dim), zap.Int64("ms", resp.QueryTime))
	}
	return resp, nil
}

// collect queries the store, over-fetching while filters drop candidates.
func (m *Manager) collect(ctx context.Context, store vector.Store, dim int, vec []float32, q *models.SearchQuery) ([]*models.SearchResult, error) {
	filtered := q.Filters.Active()
	fetch := q.Limit
	if filtered {
		fetch *= m.search.OverFetchFactor
	}
	var qopts []vector.QueryOption
	if q.MinScore != nil {
		qopts = append(qopts, vector.WithMinScore(*q.MinScore))
	}
	for {
		matches, err := store.Query(ctx, dim, vec, fetch, qopts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
		}
		ids := make([]string, len(matches))
		for i, mt := range matches {
			ids[i] = mt.ChunkID
		}
		records, err := store.Records(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrSearchUnavailable, err)
		}

		results := make([]*models.SearchResult, 0, len(matches))
		for _, mt := range matches {
			rec, ok := records[mt.ChunkID]
			if !ok || !q.Filters.MatchPath(rec.DocumentPath) {
				continue
			}
			results = append(results, &models.SearchResult{
				ChunkID: rec.ChunkID,
				Path:    rec.DocumentPath,
				Text:    rec.Text,
				Start:   rec.Start,
				End:     rec.End,
				Score:   mt.Score,
			})
		}
		if filtered && strings.TrimSpace(q.Filters.MustMatch) != "" {
			results = m.mustMatch(ctx, results, q.Filters.MustMatch)
		}
		exhausted := len(matches) < fetch
		if !filtered || len(results) >= q.Limit || exhausted {
			return results, nil
		}
		fetch *= 2
	}
}

// mustMatch keeps results whose text contains every term, using the keyword index
// when enabled and a substring scan otherwise.
func (m *Manager) mustMatch(ctx context.Context, results []*models.SearchResult, terms string) []*models.SearchResult {
	var allowed map[string]bool
	if m.keyword != nil && m.search.KeywordPrefilter {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ChunkID
		}
		var opts *keyword.FilterOptions
		if m.search.Fuzziness > 0 {
			opts = &keyword.FilterOptions{Fuzziness: m.search.Fuzziness}
		}
		var err error
		allowed, err = m.keyword.Filter(ctx, terms, ids, opts)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("keyword filter failed, falling back to substring match", zap.Error(err))
			}
			allowed = nil
		}
	}
	out := results[:0]
	for _, r := range results {
		if allowed != nil {
			if allowed[r.ChunkID] {
				out = append(out, r)
			}
		} else if search.ContainsAllTerms(r.Text, terms) {
			out = append(out, r)
		}
	}
	return out
}
