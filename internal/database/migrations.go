// Package database runs goose SQL migrations against the Postgres
// backend. Grounded on the teacher's internal/database/migrations.go
// (goose.Up/DownTo/Status over a *sql.DB derived from the pgx pool's
// DSN); simplified to the migration runner itself — the teacher's
// surrounding backup/health-check CLI machinery in
// internal/infrastructure/migrations has no analog in this domain
// (see DESIGN.md).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const migrationsDir = "migrations"

// RunMigrations applies all pending migrations found in migrationsDir.
func RunMigrations(ctx context.Context, dsn string, logger *slog.Logger) error {
	logger.Info("starting database migrations")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("database migrations completed")
	return nil
}

// RunMigrationsDown rolls back the given number of migration steps.
func RunMigrationsDown(ctx context.Context, dsn string, steps int, logger *slog.Logger) error {
	logger.Info("rolling back database migrations", "steps", steps)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	if err := goose.DownTo(db, migrationsDir, currentVersion-int64(steps)); err != nil {
		return fmt.Errorf("rollback migrations: %w", err)
	}

	logger.Info("migration rollback completed", "steps", steps)
	return nil
}

// MigrationStatus logs the applied/pending state of every migration.
func MigrationStatus(ctx context.Context, dsn string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.Status(db, migrationsDir)
}
