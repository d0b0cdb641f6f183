// Package provider builds the notes repository selected by configuration.
package provider

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/repokit/internal/config"
	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/cloo-solutions/repokit/internal/memory"
	"github.com/cloo-solutions/repokit/internal/pgmodel"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/session"
	"github.com/cloo-solutions/repokit/internal/table"
	"github.com/cloo-solutions/repokit/internal/tracking"
)

// Notes maps domain.Note to the notes table, or the notes bucket of the
// key/value stores.
var Notes = mapping.MustNew[domain.Note]("notes", "id")

// Open builds the repository named by cfg.Provider. Relational stores are
// migrated first. The repository owns whatever it was built on.
func Open(ctx context.Context, cfg *config.Config) (repository.Repository[domain.Note], error) {
	var (
		repo repository.Repository[domain.Note]
		err  error
	)
	switch cfg.Provider {
	case config.ProviderMemory:
		repo = memory.NewRepository[domain.Note]()
	case config.ProviderTracking:
		var conn *database.SQLConn
		if conn, err = openSQL(ctx, cfg); err == nil {
			repo = tracking.NewRepository(conn, Notes)
		}
	case config.ProviderTable:
		var conn *database.SQLConn
		if conn, err = openSQL(ctx, cfg); err == nil {
			repo = table.NewRepository(conn, Notes)
		}
	case config.ProviderPgModel:
		if err = database.MigratePostgres(ctx, cfg.DatabaseURL); err == nil {
			repo, err = pgmodel.Open(ctx, PgxConfig(cfg), Notes)
		}
	case config.ProviderBolt:
		repo, err = session.OpenBolt(cfg.BoltPath, Notes)
	case config.ProviderLevelDB:
		repo, err = session.OpenLevelDB(cfg.LevelDBPath, Notes)
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: open %s: %w", cfg.Provider, err)
	}

	logger.FromContext(ctx).Info(ctx, "repository opened",
		logger.String("provider", cfg.Provider),
		logger.String("isolation", cfg.DefaultIsolation().String()),
	)
	return repo, nil
}

// NewRegistry opens the configured repository and registers it for
// domain.Note. Closing the registry closes the repository.
func NewRegistry(ctx context.Context, cfg *config.Config) (*repository.Registry, error) {
	repo, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	reg := repository.NewRegistry()
	repository.Register(reg, repo)
	return reg, nil
}

// Migrate applies the schema migrations of the configured provider. The
// memory and key/value providers have no schema.
func Migrate(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx).With(logger.String("provider", cfg.Provider))

	switch {
	case cfg.UsesPostgres():
		return database.MigratePostgres(ctx, cfg.DatabaseURL)
	case cfg.UsesSQLite():
		conn, err := database.OpenSQL(ctx, database.DriverSQLite, database.SQLiteDSN(cfg.SQLitePath))
		if err != nil {
			return err
		}
		defer conn.Close()
		return database.MigrateSQLite(ctx, conn.DB())
	default:
		log.Info(ctx, "nothing to migrate")
		return nil
	}
}

// PgxConfig returns the pool settings of cfg.
func PgxConfig(cfg *config.Config) database.Config {
	return database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}

func openSQL(ctx context.Context, cfg *config.Config) (*database.SQLConn, error) {
	dsn := cfg.DatabaseURL
	if cfg.SQLDriver == config.DriverSQLite {
		dsn = database.SQLiteDSN(cfg.SQLitePath)
	}

	conn, err := database.OpenSQL(ctx, cfg.SQLDriver, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, conn, cfg.DatabaseURL); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
