package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
)

// MigrationsTable records the applied store schema version. It is separate
// from the default so the stores can live in a database shared with other
// services.
const MigrationsTable = "federation_schema_migrations"

// OpenSQL opens a database/sql handle on the pgx driver, as golang-migrate requires.
func OpenSQL(connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	return db, nil
}

// RunMigrations brings the statistics and annotation store schema up to date.
// Only pending migrations run. A store left dirty by a failed migration is
// reported and not touched.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to read migrations from %s: %w", migrationsPath, err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator",
				zap.NamedError("source_error", srcErr),
				zap.NamedError("database_error", dbErr))
		}
	}()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("failed to read store schema version: %w", err)
	case dirty:
		return fmt.Errorf("store schema is dirty at version %d; fix it by hand and force the version", from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Store schema up to date", zap.Uint("version", from))
			return nil
		}
		return fmt.Errorf("failed to migrate store schema from version %d: %w", from, err)
	}

	to, _, _ := m.Version()
	logger.Info("Migrated store schema",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to))
	return nil
}
