package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Index is the part of the index manager the tools use.
type Index interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	BuildOrUpdate(ctx context.Context, opts ...indexer.PassOption) (*models.Report, error)
	RebuildAll(ctx context.Context, opts ...indexer.PassOption) (*models.Report, error)
	Status(ctx context.Context) (*indexer.Status, error)
}

// Server wraps the MCP server with the index it serves.
type Server struct {
	mcp    *mcp.Server
	index  Index
	logger *zap.Logger
}

// NewServer creates an MCP server with the search_documents, index_status and reindex tools.
func NewServer(idx Index, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcp:    mcp.NewServer(&mcp.Implementation{Name: "ragindex", Version: version}, nil),
		index:  idx,
		logger: logger,
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the indexed documents. Returns the chunks most similar to the query, optionally restricted by folder, extension or required keywords.",
	}, s.searchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the index is ready, which backend and embedding model it uses, and how many records it holds.",
	}, s.statusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Bring the index up to date with the watched folders. Set rebuild to re-embed everything from scratch.",
	}, s.reindexHandler)
	logger.Debug("MCP tools registered", zap.Int("count", 3))
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", zap.Error(err))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// HTTPHandler serves the tools over the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult, SearchDocumentsOutput, error,
) {
	q := &models.SearchQuery{Query: input.Query, Limit: input.Limit, MinScore: input.MinScore}
	if input.PathPrefix != "" || len(input.Extensions) > 0 || input.MustMatch != "" {
		q.Filters = &models.SearchFilters{PathPrefix: input.PathPrefix, Extensions: input.Extensions, MustMatch: input.MustMatch}
	}
	resp, err := s.index.Search(ctx, q)
	if err != nil {
		return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
	}
	out := SearchDocumentsOutput{
		Results:  make([]ChunkResult, 0, len(resp.Results)),
		Total:    resp.Total,
		Degraded: resp.Degraded,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ChunkResult{Rank: r.Rank, Score: r.Score, Path: r.Path, ChunkID: r.ChunkID, Text: r.Text})
	}
	if len(out.Results) == 0 {
		out.Message = "No matching chunks found."
	}
	return nil, out, nil
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult, IndexStatusOutput, error,
) {
	st, err := s.index.Status(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, fmt.Errorf("status failed: %w", err)
	}
	out := IndexStatusOutput{
		State:          st.State,
		Backend:        st.Backend,
		Degraded:       st.Degraded,
		DegradedReason: st.DegradedReason,
		Records:        st.Records,
		Dimensions:     st.Dimensions,
		Indexing:       st.Indexing,
	}
	if out.Dimensions == nil {
		out.Dimensions = []int{}
	}
	if st.Manifest != nil {
		out.Model = st.Manifest.Model
		out.ChunkPolicy = st.Manifest.ChunkPolicy
	}
	if r := st.LastReport; r != nil {
		out.LastPass = fmt.Sprintf("%s: %d created, %d modified, %d deleted, %d unchanged, %d skipped in %s",
			r.PassID, r.Created, r.Modified, r.Deleted, r.Unchanged, r.Skipped, r.Duration)
	}
	return nil, out, nil
}

func (s *Server) reindexHandler(ctx context.Context, _ *mcp.CallToolRequest, input ReindexInput) (
	*mcp.CallToolResult, ReindexOutput, error,
) {
	run := s.index.BuildOrUpdate
	if input.Rebuild {
		run = s.index.RebuildAll
	}
	report, err := run(ctx)
	if err != nil {
		return nil, ReindexOutput{}, fmt.Errorf("reindex failed: %w", err)
	}
	s.logger.Info("reindex finished via MCP", zap.String("pass_id", report.PassID), zap.Bool("rebuild", input.Rebuild))
	return nil, ReindexOutput{
		PassID:         report.PassID,
		Created:        report.Created,
		Modified:       report.Modified,
		Deleted:        report.Deleted,
		Unchanged:      report.Unchanged,
		Skipped:        report.Skipped,
		ChunksEmbedded: report.ChunksEmbedded,
		ChunksDeleted:  report.ChunksDeleted,
		Rebuilt:        report.Rebuilt,
		DurationMs:     report.Duration.Milliseconds(),
		Errors:         report.ErrorMessages,
	}, nil
}
