package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/cloo-solutions/repokit/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// database/sql driver names registered by this package.
const (
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLConn is a database/sql handle with at most one bound transaction.
// While a transaction is bound, Executor routes every statement through it.
type SQLConn struct {
	db      *sql.DB
	driver  string
	owns    bool
	tx      *sql.Tx
	builder squirrel.StatementBuilderType
	closed  bool
}

// NewSQLConn wraps db; the caller keeps ownership of it.
func NewSQLConn(db *sql.DB, driver string) *SQLConn {
	return &SQLConn{
		db:      db,
		driver:  driver,
		builder: squirrel.StatementBuilder.PlaceholderFormat(placeholder(driver)),
	}
}

// OpenSQL opens and pings a database; the returned connection owns it.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLConn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	c := NewSQLConn(db, driver)
	c.owns = true
	return c, nil
}

// SQLiteDSN returns a modernc DSN for the database file at path. Writers
// wait on a locked database instead of failing at once.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

func placeholder(driver string) squirrel.PlaceholderFormat {
	if driver == DriverSQLite {
		return squirrel.Question
	}
	return squirrel.Dollar
}

func (c *SQLConn) DB() *sql.DB { return c.db }

func (c *SQLConn) Driver() string { return c.driver }

// Bound reports whether a transaction is currently bound.
func (c *SQLConn) Bound() bool { return c.tx != nil }

// Builder returns a squirrel builder with the driver's placeholder format.
func (c *SQLConn) Builder() squirrel.StatementBuilderType { return c.builder }

// Executor returns the bound transaction, or the database itself.
func (c *SQLConn) Executor() Executor {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// BeginTx begins a transaction and binds it. Only one transaction may be
// bound at a time.
func (c *SQLConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	if c.tx != nil {
		return nil, domain.ErrTransactionActive
	}
	// database/sql reconnects lazily; a ping surfaces a dead server before
	// the transaction is handed out.
	if err := c.db.PingContext(ctx); err != nil {
		return nil, err
	}
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.tx = tx
	return tx, nil
}

// Release unbinds tx if it is the bound transaction.
func (c *SQLConn) Release(tx *sql.Tx) {
	if c.tx == tx {
		c.tx = nil
	}
}

// DefaultIsolation is the level the engine applies when none is requested.
func (c *SQLConn) DefaultIsolation() domain.IsolationLevel {
	switch c.driver {
	case DriverSQLite:
		return domain.IsolationSerializable
	case DriverPgx, DriverPostgres:
		return domain.IsolationReadCommitted
	default:
		return domain.IsolationUnspecified
	}
}

// Close rolls back a still-bound transaction and closes the database. A
// borrowed connection is left untouched; it stays usable by other
// repositories sharing it.
func (c *SQLConn) Close() error {
	if c.closed || !c.owns {
		return nil
	}
	c.closed = true

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	errs = append(errs, c.db.Close())
	return errors.Join(errs...)
}
