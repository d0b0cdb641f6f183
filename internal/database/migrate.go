package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// MigratePostgres applies the embedded PostgreSQL migrations to databaseURL.
func MigratePostgres(ctx context.Context, databaseURL string) error {
	log := logger.FromContext(ctx)

	db, err := sql.Open(DriverPgx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Info(ctx, "migrations applied",
		logger.String("engine", "postgres"),
		logger.Int64("version", int64(version)),
		logger.Any("dirty", dirty),
	)
	return nil
}

// MigrateSQLite applies the embedded SQLite migrations to db.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseMu.Unlock()
	}()

	goose.SetBaseFS(sqliteMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/sqlite"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	logger.FromContext(ctx).Info(ctx, "migrations applied",
		logger.String("engine", "sqlite"),
		logger.Int64("version", version),
	)
	return nil
}

// Migrate applies the migrations matching conn's driver.
func Migrate(ctx context.Context, conn *SQLConn, databaseURL string) error {
	switch conn.Driver() {
	case DriverSQLite:
		return MigrateSQLite(ctx, conn.DB())
	case DriverPgx, DriverPostgres:
		return MigratePostgres(ctx, databaseURL)
	default:
		return fmt.Errorf("no migrations for driver %q", conn.Driver())
	}
}
