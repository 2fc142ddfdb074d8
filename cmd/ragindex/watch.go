package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the directories a running server watches",
	}

	var noSync bool
	add := &cobra.Command{
		Use:   "add <directory>",
		Short: "Watch a directory and index its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := newRemoteClient(a.cfg.Server.URL()).WatchAdd(commandContext(cmd), dir, !noSync); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", dir)
			return nil
		},
	}
	add.Flags().BoolVar(&noSync, "no-sync", false, "do not index existing files now")

	remove := &cobra.Command{
		Use:   "remove <directory>",
		Short: "Stop watching a directory and drop its documents from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := newRemoteClient(a.cfg.Server.URL()).WatchRemove(commandContext(cmd), dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped watching %s\n", dir)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dirs, err := newRemoteClient(a.cfg.Server.URL()).WatchList(commandContext(cmd))
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No directories are being watched.")
				return nil
			}
			for _, d := range dirs {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
