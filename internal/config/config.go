package config

import (
	"fmt"
	"log"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Providers accepted by PROVIDER.
const (
	ProviderMemory   = "memory"
	ProviderTracking = "tracking"
	ProviderTable    = "table"
	ProviderPgModel  = "pgmodel"
	ProviderBolt     = "bolt"
	ProviderLevelDB  = "leveldb"
)

// SQL drivers accepted by SQL_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment      string  `envconfig:"SENTRY_ENVIRONMENT"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`

	Provider  string `envconfig:"PROVIDER" default:"memory"`
	Isolation string `envconfig:"ISOLATION"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`

	SQLDriver  string `envconfig:"SQL_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"repokit.db"`

	BoltPath    string `envconfig:"BOLT_PATH" default:"repokit.bolt"`
	LevelDBPath string `envconfig:"LEVELDB_PATH" default:"repokit.ldb"`

	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("REPOKIT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks provider-specific requirements.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderBolt, ProviderLevelDB:
	case ProviderPgModel:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: REPOKIT_DATABASE_URL is required for provider %q", c.Provider)
		}
	case ProviderTracking, ProviderTable:
		switch c.SQLDriver {
		case DriverSQLite:
		case DriverPgx, DriverPostgres:
			if c.DatabaseURL == "" {
				return fmt.Errorf("config: REPOKIT_DATABASE_URL is required for driver %q", c.SQLDriver)
			}
		default:
			return fmt.Errorf("config: unknown sql driver %q", c.SQLDriver)
		}
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}

	if _, err := domain.ParseIsolationLevel(c.Isolation); err != nil {
		return fmt.Errorf("config: REPOKIT_ISOLATION: %w", err)
	}

	return nil
}

// DefaultIsolation is the isolation level requested by transactions the
// server and CLI open. Validate has already rejected unknown names.
func (c *Config) DefaultIsolation() domain.IsolationLevel {
	level, _ := domain.ParseIsolationLevel(c.Isolation)
	return level
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// UsesPostgres reports whether the configured provider talks to postgres.
func (c *Config) UsesPostgres() bool {
	switch c.Provider {
	case ProviderPgModel:
		return true
	case ProviderTracking, ProviderTable:
		return c.SQLDriver == DriverPgx || c.SQLDriver == DriverPostgres
	}
	return false
}

// UsesSQLite reports whether the configured provider talks to sqlite.
func (c *Config) UsesSQLite() bool {
	return (c.Provider == ProviderTracking || c.Provider == ProviderTable) && c.SQLDriver == DriverSQLite
}
