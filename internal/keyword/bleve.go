package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// batchSize bounds the number of chunks per bleve batch.
const batchSize = 500

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	mu     sync.RWMutex
	path   string
	index  bleve.Index
	logger *zap.Logger
}

var _ Index = (*BleveIndex)(nil)

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a filter term matches
	// the word as written; the English analyzer stems "Bayesian" and "bayes" apart.
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)
	pathField := bleve.NewKeywordFieldMapping()
	pathField.Store = false
	docMapping.AddFieldMappingsAt("path", pathField)
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the
// index in memory. An existing index is reused; one that fails to open is recreated
// empty, and the next rebuild repopulates it.
func NewBleveIndex(path string, logger *zap.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := openOrCreate(path, logger)
	if err != nil {
		return nil, err
	}
	return &BleveIndex{path: path, index: idx, logger: logger}, nil
}

func openOrCreate(path string, logger *zap.Logger) (bleve.Index, error) {
	if path == "" {
		return bleve.NewMemOnly(newMapping())
	}
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr == nil {
			return idx, nil
		}
		logger.Warn("keyword index unreadable, recreating", zap.String("path", path), zap.Error(openErr))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove keyword index: %w", err)
		}
	}
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

// IndexChunks indexes chunks in bleve batches.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []Chunk) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := b.index.NewBatch()
		for _, c := range chunks[start:end] {
			doc := map[string]interface{}{"path": c.Path, "text": c.Text}
			if err := batch.Index(c.ID, doc); err != nil {
				return fmt.Errorf("keyword index %s: %w", c.ID, err)
			}
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("keyword batch: %w", err)
		}
	}
	return nil
}

// Delete removes chunks by ID.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword delete: %w", err)
	}
	return nil
}

// Filter restricts candidates to chunks whose text matches every term of query.
func (b *BleveIndex) Filter(ctx context.Context, query string, candidates []string, opts *FilterOptions) (map[string]bool, error) {
	out := make(map[string]bool)
	terms := tokenizeQuery(query)
	if len(candidates) == 0 || len(terms) == 0 {
		return out, nil
	}
	fuzziness := 0
	if opts != nil && opts.Fuzziness > 0 {
		fuzziness = opts.Fuzziness
		if fuzziness > 2 {
			fuzziness = 2
		}
	}
	var match blevequery.Query
	if fuzziness > 0 {
		match = buildFuzzyQuery(terms, fuzziness, "text")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		mq.SetOperator(blevequery.MatchQueryOperatorAnd)
		match = mq
	}
	q := bleve.NewConjunctionQuery(bleve.NewDocIDQuery(candidates), match)
	req := bleve.NewSearchRequest(q)
	req.Size = len(candidates)

	b.mu.RLock()
	defer b.mu.RUnlock()
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	for _, hit := range res.Hits {
		out[hit.ID] = true
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery requires every term to match within fuzziness edits.
func buildFuzzyQuery(terms []string, fuzziness int, field string) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

// Reset drops and recreates the index.
func (b *BleveIndex) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Close(); err != nil {
		b.logger.Warn("close keyword index before reset", zap.Error(err))
	}
	if b.path != "" {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove keyword index: %w", err)
		}
	}
	idx, err := openOrCreate(b.path, b.logger)
	if err != nil {
		return err
	}
	b.index = idx
	return nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
