package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/ragindex/internal/indexer"
	mcpserver "github.com/hyperjump/ragindex/internal/mcp"
	"github.com/hyperjump/ragindex/internal/server"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API, MCP endpoint and directory watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServer(commandContext(cmd))
		},
	}
}

func (a *app) runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(a.cfg, a.cfg.Watch.Directories, a.logger)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return fmt.Errorf("data directory %s is in use by another ragindex process", a.cfg.Storage.DataDir)
		}
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}()

	triggers := make(chan struct{}, 1)
	trigger := func() {
		select {
		case triggers <- struct{}{}:
		default:
		}
	}
	w := watcher.NewWatcher(a.cfg.Watch.Directories, a.cfg.Watch.Extensions, a.cfg.Watch.RecursiveOrDefault(),
		func(paths []string) {
			a.logger.Debug("changes detected", zap.Int("paths", len(paths)))
			trigger()
		},
		watcher.WithLogger(a.logger),
		watcher.WithDebounce(a.cfg.Watch.Debounce),
	)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	passDone := make(chan struct{})
	go func() {
		defer close(passDone)
		a.indexLoop(ctx, c.Manager, triggers)
	}()
	trigger()

	mcpSrv := mcpserver.NewServer(c.Manager, version, a.logger)
	srv := server.NewServer(c.Manager, &a.cfg.Server, a.logger,
		server.WithWatch(w, c.Source.SetRoots),
		server.WithConfigPersistence(a.configPath, a.cfg),
		server.WithMount("/mcp", mcpSrv.HTTPHandler()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = srv.Stop(shutdownCtx)
		cancel()
	}
	stop()
	<-passDone
	return err
}

// indexLoop runs one BuildOrUpdate per trigger. Triggers that arrive during a pass
// coalesce into a single follow-up pass.
func (a *app) indexLoop(ctx context.Context, m *indexer.Manager, triggers <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
		}
		report, err := m.BuildOrUpdate(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("index pass failed", zap.Error(err))
			}
			continue
		}
		a.logger.Info("index pass finished",
			zap.String("pass_id", report.PassID),
			zap.Int("created", report.Created),
			zap.Int("modified", report.Modified),
			zap.Int("deleted", report.Deleted),
			zap.Int("chunks_embedded", report.ChunksEmbedded),
			zap.Int("errors", len(report.ErrorMessages)),
			zap.Duration("duration", report.Duration))
	}
}
