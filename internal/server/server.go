// Package server provides the HTTP API for ragindex.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/models"
	"go.uber.org/zap"
)

// IndexService is the index the server exposes. *indexer.Manager implements it.
type IndexService interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	BuildOrUpdate(ctx context.Context, opts ...indexer.PassOption) (*models.Report, error)
	RebuildAll(ctx context.Context, opts ...indexer.PassOption) (*models.Report, error)
	Status(ctx context.Context) (*indexer.Status, error)
}

// WatchService manages watched root directories. *watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the ragindex API.
type Server struct {
	index  IndexService
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server

	watch         WatchService
	onRoots       func([]string)
	mounts        map[string]http.Handler
	configPath    string
	watchConfig   *config.Config
	watchConfigMu sync.Mutex

	// Background passes started by the index and rebuild endpoints.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints. onRoots, when set, receives the
// new root list after every add or remove so the document source can follow it.
func WithWatch(ws WatchService, onRoots func([]string)) Option {
	return func(s *Server) {
		s.watch = ws
		s.onRoots = onRoots
	}
}

// WithConfigPersistence saves watch directory changes into cfg at path.
func WithConfigPersistence(path string, cfg *config.Config) Option {
	return func(s *Server) {
		s.configPath = path
		s.watchConfig = cfg
	}
}

// WithMount serves h under pattern, e.g. the MCP streamable HTTP handler at /mcp.
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) {
		if s.mounts == nil {
			s.mounts = make(map[string]http.Handler)
		}
		s.mounts[pattern] = h
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(idx IndexService, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		index:  idx,
		config: cfg,
		logger: logger,
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))
		r.Post("/api/v1/search", s.handleSearch)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
		r.Get("/health", s.handleHealth)
	})
	// Passes and mounted handlers run without the request timeout.
	r.Post("/api/v1/index", s.handleIndex)
	r.Post("/api/v1/rebuild", s.handleRebuild)
	for pattern, h := range s.mounts {
		r.Handle(pattern, h)
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and cancels background passes.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.bgCancel()
	s.bgWG.Wait()
	return err
}
