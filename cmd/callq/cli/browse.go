package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
	"github.com/callscope/callscope/internal/search"
	"github.com/callscope/callscope/internal/storage"
)

// browseOptions control paging through results.
type browseOptions struct {
	sort     cursor.Sort
	pageSize int
	// pages is the number of pages to load; 0 loads until the end.
	pages int
}

func newBrowseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through an agent's call logs",
		Long: "Compiles the optional filters file, search text and anomaly toggles for one agent and pages " +
			"through matching call logs newest first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := compileOptions{}
			opts.agentID, _ = cmd.Flags().GetString("agent")
			opts.anomalies, _ = cmd.Flags().GetStringSlice("anomalies")

			var groups []filter.Group

			if path, _ := cmd.Flags().GetString("filters"); path != "" {
				var err error

				groups, err = readFilters(cmd.InOrStdin(), path)
				if err != nil {
					return err
				}
			}

			if text, _ := cmd.Flags().GetString("search"); strings.TrimSpace(text) != "" {
				query := search.Query{Text: text, Fields: []string{search.AllFields}}
				groups = append(groups, newSearchParser().Parse(query))
			}

			bopts, err := browseOptionsFromCmd(cmd)
			if err != nil {
				return err
			}

			store, conn, err := openCallStore(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = conn.Close() }()

			logger := loggerFromCmd(cmd)
			catalog, thresholds := loadAgentContext(cmd.Context(), store, logger, opts)
			result := compileFilters(groups, opts, catalog, thresholds)

			for _, w := range result.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w.Message)
			}

			calls, more, err := browse(cmd.Context(), store, result.Predicates, bopts, logger)
			if err != nil {
				return err
			}

			if err := newPrinter(outputFormat(cmd), cmd.OutOrStdout()).calls(calls); err != nil {
				return err
			}

			if more {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d calls shown, more available\n", len(calls))
			}

			return nil
		},
	}

	cmd.Flags().String("agent", "", "agent id (required)")
	cmd.Flags().String("filters", "", "YAML filters file, or - for stdin")
	cmd.Flags().String("search", "", "search box text")
	cmd.Flags().StringSlice("anomalies", nil, "anomaly toggles: duration, cost, latency")
	cmd.Flags().String("sort", cursor.DefaultSort.Column, "sort column")
	cmd.Flags().Bool("asc", false, "sort ascending")
	cmd.Flags().Int("page-size", cursor.DefaultPageSize, "rows per page")
	cmd.Flags().Int("pages", 1, "pages to load, 0 for all")

	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

func browseOptionsFromCmd(cmd *cobra.Command) (browseOptions, error) {
	column, _ := cmd.Flags().GetString("sort")
	asc, _ := cmd.Flags().GetBool("asc")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	pages, _ := cmd.Flags().GetInt("pages")

	if pageSize <= 0 {
		return browseOptions{}, fmt.Errorf("invalid --page-size %d: must be positive", pageSize)
	}

	if pages < 0 {
		return browseOptions{}, fmt.Errorf("invalid --pages %d: must be >= 0", pages)
	}

	direction := cursor.Desc
	if asc {
		direction = cursor.Asc
	}

	return browseOptions{
		sort:     cursor.Sort{Column: column, Direction: direction},
		pageSize: pageSize,
		pages:    pages,
	}, nil
}

// browse loads pages through a cursor and reports whether more rows remain.
func browse(
	ctx context.Context,
	fetcher cursor.Fetcher[storage.CallLog],
	preds []predicate.Predicate,
	opts browseOptions,
	logger *slog.Logger,
) ([]storage.CallLog, bool, error) {
	c := cursor.New(fetcher, cursor.WithPageSize(opts.pageSize), cursor.WithLogger(logger))

	if err := c.SetSort(opts.sort); err != nil {
		return nil, false, err
	}

	c.SetPredicates(preds)

	for loaded := 0; c.HasMore() && (opts.pages == 0 || loaded < opts.pages); loaded++ {
		if err := c.LoadMore(ctx); err != nil {
			return nil, false, err
		}
	}

	return c.Items(), c.HasMore(), nil
}
