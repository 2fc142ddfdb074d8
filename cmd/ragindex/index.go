package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIndexCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "index [directories...]",
		Short: "Bring the index up to date with the watched directories",
		Long: "Index new and changed documents and drop deleted ones. Directories given as\n" +
			"arguments replace the configured watch directories for this run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPass(cmd, args, false, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newRebuildCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "rebuild [directories...]",
		Short: "Discard the index and re-embed every document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPass(cmd, args, true, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func (a *app) runPass(cmd *cobra.Command, args []string, rebuild bool, output string) error {
	format, err := outputFormat(output)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roots := a.cfg.Watch.Directories
	if len(args) > 0 {
		roots = args
	}
	c, err := initializeComponents(a.cfg, roots, a.logger)
	if errors.Is(err, storage.ErrLocked) {
		if len(args) > 0 {
			a.logger.Warn("server is running; directory arguments are ignored", zap.Strings("directories", args))
		}
		a.logger.Info("data directory in use, running the pass on the server", zap.String("url", a.cfg.Server.URL()))
		report, err := newRemoteClient(a.cfg.Server.URL()).Pass(ctx, rebuild)
		if err != nil {
			return err
		}
		return cli.WriteReport(cmd.OutOrStdout(), report, format)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	fn := c.Manager.BuildOrUpdate
	if rebuild {
		fn = c.Manager.RebuildAll
	}
	progress := cli.NewProgress(cmd.ErrOrStderr())
	report, passErr := fn(ctx, indexer.WithProgress(progress.Func()))
	progress.Done()
	if report != nil {
		if err := cli.WriteReport(cmd.OutOrStdout(), report, format); err != nil {
			return err
		}
		logUsage(a.logger, a.cfg.Storage.DataDir, report)
	}
	return passErr
}

func logUsage(logger *zap.Logger, dataDir string, report *models.Report) {
	size, err := storage.DiskUsageBytes(dataDir)
	if err != nil {
		logger.Debug("disk usage unavailable", zap.Error(err))
		return
	}
	logger.Debug("data directory usage",
		zap.String("pass_id", report.PassID),
		zap.String("data_dir", dataDir),
		zap.String("size", cli.FormatBytes(size)))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
