package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultTable tracks applied migrations.
const DefaultTable = "schema_migrations"

// Status describes the schema state of a database.
type Status struct {
	Version  uint
	Dirty    bool
	Latest   int
	Applied  bool
	UpToDate bool
}

// Runner applies the embedded migrations to a Postgres database.
type Runner struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

type migrateLogger struct {
	logger *slog.Logger
}

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool { return false }

// NewRunner validates the embedded files, opens its own connection to
// databaseURL and prepares a runner. Close releases the connection.
func NewRunner(ctx context.Context, databaseURL, table string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if table == "" {
		table = DefaultTable
	}

	if err := Validate(embedded); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(embedded, ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{migrate: m, logger: logger}, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("All migrations applied")

	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migrations to roll back")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Last migration rolled back")

	return nil
}

// Status reports the applied version against the embedded latest.
func (r *Runner) Status() (Status, error) {
	latest := LatestVersion(embedded)

	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Latest: latest, UpToDate: latest == 0}, nil
	}

	if err != nil {
		return Status{}, fmt.Errorf("failed to get migration version: %w", err)
	}

	return Status{
		Version:  ver,
		Dirty:    dirty,
		Latest:   latest,
		Applied:  true,
		UpToDate: !dirty && int(ver) == latest, // #nosec G115 -- migration versions are small
	}, nil
}

// Drop removes every table in the database.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Close releases the migration source and the database connection.
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrate.Close()

	return errors.Join(sourceErr, dbErr)
}

// Up applies every embedded migration to the database at databaseURL.
func Up(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	r, err := NewRunner(ctx, databaseURL, DefaultTable, logger)
	if err != nil {
		return err
	}

	defer func() { _ = r.Close() }()

	return r.Up()
}
