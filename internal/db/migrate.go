package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/roomhub/apiserver/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	postgresMigrations = "migrations/postgres"
	sqliteMigrations   = "migrations/sqlite"
	migrationTable     = "schema_migrations"
)

// MigrateUp applies every pending migration for the configured driver.
func MigrateUp(ctx context.Context, cfg config.DatabaseConfig) error {
	switch Dialect(cfg.Driver) {
	case Postgres:
		m, err := newPostgresMigrator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = m.Close()
		}()
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return nil
	case SQLite:
		conn, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return err
		}
		defer conn.Close()
		return ApplySQLite(ctx, conn)
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// MigrateDown reverts every applied migration for the configured driver.
func MigrateDown(ctx context.Context, cfg config.DatabaseConfig) error {
	switch Dialect(cfg.Driver) {
	case Postgres:
		m, err := newPostgresMigrator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = m.Close()
		}()
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return nil
	case SQLite:
		conn, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return err
		}
		defer conn.Close()
		return RevertSQLite(ctx, conn)
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newPostgresMigrator(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, postgresMigrations)
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("init migrator failed: %w", err)
	}
	return m, nil
}

func newSQLiteMigrator(conn *sql.DB) (*migrate.Migrate, source.Driver, error) {
	src, err := iofs.New(migrationsFS, sqliteMigrations)
	if err != nil {
		return nil, nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(conn, &sqlite.Config{MigrationsTable: migrationTable})
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("init sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(SQLite), driver)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("init migrator failed: %w", err)
	}
	return m, src, nil
}

// ApplySQLite runs the embedded sqlite up migrations against conn. The
// connection stays open; the caller owns it.
func ApplySQLite(ctx context.Context, conn *sql.DB) error {
	return runSQLite(ctx, conn, (*migrate.Migrate).Up, "migrate up failed")
}

// RevertSQLite reverts every applied sqlite migration against conn.
func RevertSQLite(ctx context.Context, conn *sql.DB) error {
	return runSQLite(ctx, conn, (*migrate.Migrate).Down, "migrate down failed")
}

func runSQLite(ctx context.Context, conn *sql.DB, step func(*migrate.Migrate) error, failure string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, src, err := newSQLiteMigrator(conn)
	if err != nil {
		return err
	}
	// m.Close would also close conn.
	defer func() {
		_ = src.Close()
	}()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", failure, err)
	}
	return nil
}
