package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite" // SQLite driver
)

type (
	// Runner applies the embedded migrations to a gateway database file.
	// It opens its own short-lived connection so that migration lifecycle
	// never interferes with the long-lived engine connection.
	Runner struct {
		migrate           *migrate.Migrate
		db                *sql.DB
		logger            *slog.Logger
		embeddedMigration *EmbeddedMigration
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

// Ensure we implement the interface at compile time.
var _ migrate.Logger = (*migrateLogger)(nil)

// Add io.Writer interface compliance for broader compatibility.
var _ io.Writer = (*migrateLogger)(nil)

// MigrationsTable is the bookkeeping table golang-migrate maintains in the
// gateway database.
const MigrationsTable = "schema_migrations"

// NewRunner creates a migration runner for the database file reachable via dsn.
// The embedded migrations are validated before any connection is opened.
func NewRunner(dsn string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embeddedMigration := NewEmbeddedMigration(nil)

	err := embeddedMigration.ValidateEmbeddedMigrations()
	if err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migration: %w", err)
	}

	err = db.PingContext(context.Background())
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	sourceDriver, err := iofs.New(embeddedMigration.GetEmbeddedMigrations(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf(
			"failed to create migrate instance with embedded migrations: %w",
			err,
		)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		migrate:           m,
		db:                db,
		logger:            logger,
		embeddedMigration: embeddedMigration,
	}, nil
}

// Apply brings the schema up to the latest embedded version. A database that
// is already current is not an error.
func (r *Runner) Apply() error {
	err := r.embeddedMigration.ValidateEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err = r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Debug("schema already up to date")
	} else {
		r.logger.Info("schema migrations applied", "version", r.maxEmbeddedVersion())
	}

	return nil
}

// Rollback undoes the most recent migration.
func (r *Runner) Rollback() error {
	err := r.embeddedMigration.ValidateEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err = r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	return nil
}

// Version reports the current schema version and whether the database is dirty.
// A database with no applied migrations reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return ver, dirty, nil
}

// Close releases the migration source and the runner's database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	return errors.Join(errs...)
}

// maxEmbeddedVersion returns the highest migration sequence number among the
// embedded migration files.
func (r *Runner) maxEmbeddedVersion() int {
	files, err := r.embeddedMigration.ListEmbeddedMigrations()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		if migration, err := r.embeddedMigration.parseMigrationFilename(filename); err == nil {
			if migration.Sequence > maxSequence {
				maxSequence = migration.Sequence
			}
		}
	}

	return maxSequence
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	l.logger.Info("[migrate] " + string(p))

	return len(p), nil
}
