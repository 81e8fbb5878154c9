// Package main provides the database migration CLI for callscope.
//
// Migrations are embedded in the binary, so the tool only needs DATABASE_URL.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/storage"
	"github.com/callscope/callscope/migrations"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "migrator"

var errUnknownCommand = errors.New("unknown command")

// runner is the subset of migrations.Runner the commands use.
type runner interface {
	Up() error
	Down() error
	Status() (migrations.Status, error)
	Drop() error
}

func main() {
	showHelp := flag.Bool("help", false, "Show help information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	table := config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultTable)

	logger.Info("Initializing migration runner",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.String("migration_table", table),
	)

	r, err := migrations.NewRunner(context.Background(), storageConfig.DatabaseURL(), table, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = execute(flag.Arg(0), r, os.Stdin, os.Stdout)

	_ = r.Close()

	if err != nil {
		logger.Error("Migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func execute(command string, r runner, in io.Reader, out io.Writer) error {
	switch command {
	case "up":
		return r.Up()
	case "down":
		return r.Down()
	case "status", "version":
		status, err := r.Status()
		if err != nil {
			return err
		}

		printStatus(out, status)

		return nil
	case "drop":
		_, _ = fmt.Fprint(out, "WARNING: This will drop all tables. Are you sure? (y/N): ")

		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(answer), "y") {
			return r.Drop()
		}

		_, _ = fmt.Fprintln(out, "Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func printStatus(out io.Writer, s migrations.Status) {
	if !s.Applied {
		_, _ = fmt.Fprintf(out, "Database schema: none applied (migrator supports v%03d)\n", s.Latest)

		return
	}

	state := "clean"
	if s.Dirty {
		state = "dirty (needs manual intervention)"
	}

	_, _ = fmt.Fprintf(out, "Database schema: v%03d (%s)\n", s.Version, state)
	_, _ = fmt.Fprintf(out, "Migrator supports: v%03d\n", s.Latest)

	switch {
	case s.UpToDate:
		_, _ = fmt.Fprintln(out, "Status: up to date")
	case int(s.Version) < s.Latest: // #nosec G115 -- migration versions are small
		_, _ = fmt.Fprintf(out, "Status: %d migration(s) available\n", s.Latest-int(s.Version)) // #nosec G115
	default:
		_, _ = fmt.Fprintln(out, "Status: database schema is newer than this migrator")
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s v%s - database migrations for callscope

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up       Apply all pending migrations
    down     Roll back the last migration
    status   Show the applied schema version
    version  Alias for status
    drop     Drop all tables (asks for confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  Migration tracking table (default: schema_migrations)
`, name, Version, name)
}
