package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/storage"
)

// ErrNoFilters is returned for a filters file with no groups.
var ErrNoFilters = errors.New("filters file has no groups")

// compileOptions are the inputs of a compile besides the filter tree.
type compileOptions struct {
	agentID   string
	anomalies []string
	strict    bool
}

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <filters.yaml|->",
		Short: "Compile a filters file into store predicates",
		Long: "Reads a YAML list of filter groups and prints the predicate list and warnings. With a database " +
			"URL, discovered fields and anomaly thresholds come from the agent's call logs.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := readFilters(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			opts := compileOptions{}
			opts.agentID, _ = cmd.Flags().GetString("agent")
			opts.anomalies, _ = cmd.Flags().GetStringSlice("anomalies")
			opts.strict, _ = cmd.Flags().GetBool("strict")

			var (
				catalog    discovery.Catalog
				thresholds anomaly.Thresholds
			)

			if databaseURL(cmd) != "" && opts.agentID != "" {
				catalog, thresholds, err = agentContext(cmd, opts)
				if err != nil {
					return err
				}
			}

			result := compileFilters(groups, opts, catalog, thresholds)

			p := newPrinter(outputFormat(cmd), cmd.OutOrStdout())
			if p.format == "yaml" {
				return p.yaml(result)
			}

			return p.json(result)
		},
	}

	cmd.Flags().String("agent", "", "agent id to scope the predicates to")
	cmd.Flags().StringSlice("anomalies", nil, "anomaly toggles: duration, cost, latency")
	cmd.Flags().Bool("strict", false, "drop JSON numeric rules whose value is not a number")

	return cmd
}

// readFilters decodes a YAML (or JSON) list of groups from path, or from in
// when path is "-".
func readFilters(in io.Reader, path string) ([]filter.Group, error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		defer func() { _ = f.Close() }()

		in = f
	}

	var groups []filter.Group
	if err := yaml.NewDecoder(in).Decode(&groups); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFilters
		}

		return nil, fmt.Errorf("decode filters: %w", err)
	}

	if len(groups) == 0 {
		return nil, ErrNoFilters
	}

	return groups, nil
}

func compileFilters(
	groups []filter.Group,
	opts compileOptions,
	catalog discovery.Catalog,
	thresholds anomaly.Thresholds,
) compiler.Result {
	var copts []compiler.Option
	if opts.strict {
		copts = append(copts, compiler.WithStrictNumeric())
	}

	return compiler.New(copts...).Compile(compiler.Input{
		Groups:     groups,
		Toggles:    anomaly.ParseToggles(opts.anomalies),
		Thresholds: thresholds,
		AgentID:    opts.agentID,
		Catalog:    catalog,
	})
}

// agentContext loads the agent's field catalog and, when toggles are set,
// its thresholds.
func agentContext(cmd *cobra.Command, opts compileOptions) (discovery.Catalog, anomaly.Thresholds, error) {
	store, conn, err := openCallStore(cmd)
	if err != nil {
		return nil, anomaly.Thresholds{}, err
	}

	defer func() { _ = conn.Close() }()

	catalog, thresholds := loadAgentContext(cmd.Context(), store, loggerFromCmd(cmd), opts)

	return catalog, thresholds, nil
}

type agentSource interface {
	discovery.Sampler
	anomaly.Source
}

var _ agentSource = (*storage.CallLogStore)(nil)

func loadAgentContext(
	ctx context.Context,
	source agentSource,
	logger *slog.Logger,
	opts compileOptions,
) (discovery.Catalog, anomaly.Thresholds) {
	catalog := discovery.NewService(source, discovery.WithLogger(logger)).Fields(ctx, opts.agentID)

	var thresholds anomaly.Thresholds
	if len(anomaly.ParseToggles(opts.anomalies)) > 0 {
		thresholds = anomaly.NewService(source, anomaly.WithLogger(logger)).Thresholds(ctx, opts.agentID)
	}

	return catalog, thresholds
}
