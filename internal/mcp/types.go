// Package mcp exposes the index to MCP clients as tools.
package mcp

// SearchDocumentsInput defines the input schema for the search_documents tool.
type SearchDocumentsInput struct {
	Query      string   `json:"query" jsonschema:"natural language query to search for"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of chunks to return, default 10"`
	MinScore   *float64 `json:"min_score,omitempty" jsonschema:"minimum cosine similarity between -1 and 1"`
	PathPrefix string   `json:"path_prefix,omitempty" jsonschema:"only return chunks from documents under this folder"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"only return chunks from documents with these extensions, e.g. .md"`
	MustMatch  string   `json:"must_match,omitempty" jsonschema:"keywords every returned chunk must contain"`
}

// SearchDocumentsOutput defines the output schema for the search_documents tool.
type SearchDocumentsOutput struct {
	Results  []ChunkResult `json:"results" jsonschema:"ranked matching chunks"`
	Total    int           `json:"total"`
	Degraded bool          `json:"degraded,omitempty" jsonschema:"true when results come from the fallback store"`
	Message  string        `json:"message,omitempty"`
}

// ChunkResult is one ranked chunk.
type ChunkResult struct {
	Rank    int     `json:"rank"`
	Score   float64 `json:"score" jsonschema:"cosine similarity to the query"`
	Path    string  `json:"path" jsonschema:"source document path"`
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text" jsonschema:"chunk text"`
}

// IndexStatusInput takes no parameters.
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	State          string `json:"state" jsonschema:"loader state: not_started, in_progress, ready or failed"`
	Backend        string `json:"backend"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
	Records        int64  `json:"records" jsonschema:"stored embedding records"`
	Dimensions     []int  `json:"dimensions"`
	Model          string `json:"model,omitempty"`
	ChunkPolicy    string `json:"chunk_policy,omitempty"`
	Indexing       bool   `json:"indexing"`
	LastPass       string `json:"last_pass,omitempty" jsonschema:"summary of the last indexing pass"`
}

// ReindexInput defines the input schema for the reindex tool.
type ReindexInput struct {
	Rebuild bool `json:"rebuild,omitempty" jsonschema:"discard all records and re-embed every document"`
}

// ReindexOutput defines the output schema for the reindex tool.
type ReindexOutput struct {
	PassID         string   `json:"pass_id"`
	Created        int      `json:"created"`
	Modified       int      `json:"modified"`
	Deleted        int      `json:"deleted"`
	Unchanged      int      `json:"unchanged"`
	Skipped        int      `json:"skipped"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	ChunksDeleted  int      `json:"chunks_deleted"`
	Rebuilt        bool     `json:"rebuilt"`
	DurationMs     int64    `json:"duration_ms"`
	Errors         []string `json:"errors,omitempty"`
}
