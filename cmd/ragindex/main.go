package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ragindex/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand once the config is loaded.
type app struct {
	configPath string
	debug      bool
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ragindex",
		Short:         "Incremental document indexing and semantic search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(a),
		newIndexCmd(a),
		newRebuildCmd(a),
		newSearchCmd(a),
		newStatusCmd(a),
		newMCPCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)

	return root
}

func (a *app) init() error {
	cfg, path, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(a.debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.configPath = path
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadConfig loads the config and returns the path it came from. With the default
// path, ./config.yaml wins when present, and a missing default file yields the
// defaults. An explicit path must exist.
func loadConfig(path string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		if abs, err := filepath.Abs("config.yaml"); err == nil {
			cfg, err := config.Load(abs)
			return cfg, abs, err
		}
	}
	cfg, err := config.LoadOrDefault(path)
	return cfg, path, err
}

func outputFormat(s string) (cli.OutputFormat, error) {
	switch cli.OutputFormat(s) {
	case cli.OutputText, "":
		return cli.OutputText, nil
	case cli.OutputJSON:
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragindex version %s\n", version)
		},
	}
}
