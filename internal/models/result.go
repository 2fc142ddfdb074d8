package models

import (
	"time"

	"go.uber.org/multierr"
)

// SearchResult is a single ranked chunk.
type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Path    string  `json:"path"`
	Text    string  `json:"text"`
	Snippet string  `json:"snippet,omitempty"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	Model     string          `json:"model,omitempty"`
	Dimension int             `json:"dimension,omitempty"`
	// Degraded is true when results come from the fallback store.
	Degraded bool `json:"degraded,omitempty"`
}

// Phase names the step of an indexing pass reported to progress callbacks.
type Phase string

const (
	PhaseScanning   Phase = "scanning"
	PhaseChunking   Phase = "chunking"
	PhaseEmbedding  Phase = "embedding"
	PhaseCommitting Phase = "committing"
	PhaseRebuilding Phase = "rebuilding"
)

// Progress is a snapshot of pass progress, reported per document.
type Progress struct {
	Processed int   `json:"processed"`
	Total     int   `json:"total"`
	Phase     Phase `json:"phase"`
}

// ProgressFunc receives progress updates. It must not block.
type ProgressFunc func(Progress)

// Report summarizes one BuildOrUpdate or RebuildAll pass.
type Report struct {
	PassID         string        `json:"pass_id"`
	Created        int           `json:"created"`
	Modified       int           `json:"modified"`
	Deleted        int           `json:"deleted"`
	Unchanged      int           `json:"unchanged"`
	Skipped        int           `json:"skipped"`
	ChunksEmbedded int           `json:"chunks_embedded"`
	ChunksDeleted  int           `json:"chunks_deleted"`
	EmbedCalls     int           `json:"embed_calls"`
	Rebuilt        bool          `json:"rebuilt"`
	Duration       time.Duration `json:"duration"`
	Errors         error         `json:"-"`
	ErrorMessages  []string      `json:"errors,omitempty"`
}

// AddError records a recoverable per-document or per-batch error.
func (r *Report) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = multierr.Append(r.Errors, err)
	r.ErrorMessages = append(r.ErrorMessages, err.Error())
}

// Failures returns the individual recorded errors.
func (r *Report) Failures() []error {
	return multierr.Errors(r.Errors)
}

// Writes returns the number of store mutations the pass performed.
func (r *Report) Writes() int {
	return r.ChunksEmbedded + r.ChunksDeleted
}
