package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/hyperjump/ragindex/internal/mcp"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newMCPCmd(a *app) *cobra.Command {
	var skipIndex bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index to an MCP client over stdio",
		Long: "Serve search_documents, index_status and reindex over stdio. When a server\n" +
			"already holds the data directory, connect the client to its /mcp endpoint instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMCP(cmd, skipIndex)
		},
	}
	cmd.Flags().BoolVar(&skipIndex, "no-index", false, "do not update the index on startup")
	return cmd
}

func (a *app) runMCP(cmd *cobra.Command, skipIndex bool) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(a.cfg, a.cfg.Watch.Directories, a.logger)
	if errors.Is(err, storage.ErrLocked) {
		return fmt.Errorf("data directory %s is in use; connect to %s/mcp instead", a.cfg.Storage.DataDir, a.cfg.Server.URL())
	}
	if err != nil {
		return err
	}
	defer c.Close()

	srv := mcpserver.NewServer(c.Manager, version, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	if !skipIndex {
		g.Go(func() error {
			if _, err := c.Manager.BuildOrUpdate(gctx); err != nil && gctx.Err() == nil {
				a.logger.Warn("startup index pass failed", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		// The client closing stdin ends the session; stop the startup pass with it.
		defer stop()
		if err := srv.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
