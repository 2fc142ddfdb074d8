package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/spf13/cobra"
)

type searchOptions struct {
	limit      int
	minScore   float64
	pathPrefix string
	extensions []string
	mustMatch  string
	output     string
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(opts.output)
			if err != nil {
				return err
			}
			query := buildSearchQuery(args, opts, cmd.Flags().Changed("min-score"))
			response, err := a.search(cmd, query)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.limit, "limit", "n", 0, "maximum number of results (0 uses the configured default)")
	f.Float64Var(&opts.minScore, "min-score", 0, "minimum cosine similarity in [-1, 1]")
	f.StringVar(&opts.pathPrefix, "path-prefix", "", "only return documents under this folder")
	f.StringSliceVar(&opts.extensions, "ext", nil, "only return documents with these extensions (repeatable)")
	f.StringVar(&opts.mustMatch, "must-match", "", "only return chunks containing every term of this keyword query")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	return cmd
}

// buildSearchQuery turns CLI arguments into a query. The min score only applies when
// the flag was given, since zero is a meaningful threshold.
func buildSearchQuery(args []string, opts searchOptions, minScoreSet bool) *models.SearchQuery {
	q := &models.SearchQuery{
		Query: strings.TrimSpace(strings.Join(args, " ")),
		Limit: opts.limit,
	}
	if minScoreSet {
		score := opts.minScore
		q.MinScore = &score
	}
	filters := &models.SearchFilters{
		PathPrefix: opts.pathPrefix,
		MustMatch:  opts.mustMatch,
	}
	for _, ext := range opts.extensions {
		if ext = strings.TrimSpace(ext); ext != "" {
			filters.Extensions = append(filters.Extensions, ext)
		}
	}
	if filters.Active() {
		q.Filters = filters
	}
	return q
}

// search runs q locally, or on the running server when it holds the data directory.
func (a *app) search(cmd *cobra.Command, q *models.SearchQuery) (*models.SearchResponse, error) {
	ctx := commandContext(cmd)
	c, err := initializeComponents(a.cfg, a.cfg.Watch.Directories, a.logger)
	if errors.Is(err, storage.ErrLocked) {
		return newRemoteClient(a.cfg.Server.URL()).Search(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	defer c.Close()
	response, err := c.Manager.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return response, nil
}

func newStatusCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index contents, backend health and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}
			st, watching, err := a.status(cmd)
			if err != nil {
				return err
			}
			if err := cli.WriteStatus(cmd.OutOrStdout(), st, format); err != nil {
				return err
			}
			if format == cli.OutputText && len(watching) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Watching:")
				for _, d := range watching {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", d)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func (a *app) status(cmd *cobra.Command) (*indexer.Status, []string, error) {
	ctx := commandContext(cmd)
	c, err := initializeComponents(a.cfg, a.cfg.Watch.Directories, a.logger)
	if errors.Is(err, storage.ErrLocked) {
		resp, err := newRemoteClient(a.cfg.Server.URL()).Status(ctx)
		if err != nil {
			return nil, nil, err
		}
		return resp.Status, resp.WatchDirectories, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()
	st, err := c.Manager.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, nil, nil
}
