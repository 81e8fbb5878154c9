// Package cli implements the callq command tree: offline tools for parsing
// searches, compiling filter files, browsing call logs and ingesting calls.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/aliasing"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/search"
	"github.com/callscope/callscope/internal/storage"
)

// NewRootCommand returns the callq command with all subcommands wired in.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "callq",
		Short:         "Query and load callscope call logs from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv()
		},
	}

	cmd.PersistentFlags().String("database-url", "", "Postgres connection string (or DATABASE_URL env)")
	cmd.PersistentFlags().StringP("output", "o", "json", "output format: json, yaml or table")
	cmd.PersistentFlags().Bool("verbose", false, "log debug output to stderr")

	cmd.AddCommand(
		newParseCmd(),
		newCompileCmd(),
		newBrowseCmd(),
		newIngestCmd(),
	)

	return cmd
}

// outputFormat returns "json" or "table" from the --output flag.
func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")

	return f
}

func loggerFromCmd(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// databaseURL prefers the --database-url flag over DATABASE_URL.
func databaseURL(cmd *cobra.Command) string {
	if url, _ := cmd.Flags().GetString("database-url"); url != "" {
		return url
	}

	return os.Getenv("DATABASE_URL")
}

// openCallStore connects to Postgres. The caller closes the connection.
func openCallStore(cmd *cobra.Command) (*storage.CallLogStore, *storage.Connection, error) {
	url := databaseURL(cmd)
	if url == "" {
		return nil, nil, fmt.Errorf("%w: pass --database-url or set DATABASE_URL", storage.ErrDatabaseURLEmpty)
	}

	conn, err := storage.NewConnection(storage.NewConfig(url))
	if err != nil {
		return nil, nil, err
	}

	return storage.NewCallLogStore(conn), conn, nil
}

// newSearchParser returns a parser over the default registry that resolves
// field aliases from the alias file, when one exists.
func newSearchParser() *search.Parser {
	cfg, _ := aliasing.LoadConfigFromEnv()

	return search.NewParser(filter.DefaultRegistry()).WithAliases(aliasing.NewResolver(cfg))
}
