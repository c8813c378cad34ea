package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"ms-ticket-gate/internal/logger"
)

//go:embed sql/*.sql
var files embed.FS

const migrationsTable = "ticket_gate_schema_migrations"

// Source returns the embedded migration files as a golang-migrate source.
func Source() (source.Driver, error) {
	d, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return d, nil
}

// Runner applies the embedded migrations to a Postgres database. Close also
// closes the *sql.DB it was built with, so give it a dedicated handle.
type Runner struct {
	migrator *migrate.Migrate
	logger   *logger.Logger
}

func NewRunner(sqlDB *sql.DB, log *logger.Logger) (*Runner, error) {
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	src, err := Source()
	if err != nil {
		return nil, err
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Runner{migrator: migrator, logger: log}, nil
}

// Up applies every pending migration. A dirty version left by a crashed run
// is forced back to its last clean state first.
func (r *Runner) Up() error {
	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		prev := previousVersion(version)
		r.logger.Warn("MIGRATE", fmt.Sprintf("dirty schema at version %d, forcing version %d", version, prev))
		if err := r.migrator.Force(prev); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}

	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	r.logVersion()
	return nil
}

// previousVersion returns the migration before version, or -1 (no version)
// when version is the first one.
func previousVersion(version uint) int {
	src, err := Source()
	if err != nil {
		return -1
	}
	defer src.Close()

	prev, err := src.Prev(version)
	if err != nil {
		return -1
	}
	return int(prev)
}

// Down rolls back every migration.
func (r *Runner) Down() error {
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	r.logVersion()
	return nil
}

// To migrates up or down to version.
func (r *Runner) To(version uint) error {
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	r.logVersion()
	return nil
}

// Version reports the applied version; zero with no error means none yet.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (r *Runner) logVersion() {
	version, dirty, err := r.Version()
	if err != nil {
		r.logger.Warn("MIGRATE", fmt.Sprintf("could not read schema version: %v", err))
		return
	}
	r.logger.LogDatabase("MIGRATE", "ticket_orders", fmt.Sprintf("schema version %d (dirty=%t)", version, dirty))
}

func (r *Runner) Close() error {
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
