package database

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the statement surface shared by pools and pgx transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PgxConn is a pgx pool with at most one bound transaction.
type PgxConn struct {
	db      DB
	closer  func()
	tx      pgx.Tx
	builder squirrel.StatementBuilderType
	closed  bool
}

// NewPgxConn wraps db; the caller keeps ownership of it.
func NewPgxConn(db DB) *PgxConn {
	return &PgxConn{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// OpenPgx creates a pool from cfg; the returned connection owns it.
func OpenPgx(ctx context.Context, cfg Config) (*PgxConn, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := NewPgxConn(pool)
	c.closer = pool.Close
	return c, nil
}

// Pool returns the underlying pool when the connection wraps a real one.
func (c *PgxConn) Pool() (*pgxpool.Pool, bool) {
	p, ok := c.db.(*pgxpool.Pool)
	return p, ok
}

func (c *PgxConn) Builder() squirrel.StatementBuilderType { return c.builder }

// Bound reports whether a transaction is currently bound.
func (c *PgxConn) Bound() bool { return c.tx != nil }

// Querier returns the bound transaction, or the pool itself.
func (c *PgxConn) Querier() Querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// BeginTx begins a transaction and binds it.
func (c *PgxConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if c.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	if c.tx != nil {
		return nil, domain.ErrTransactionActive
	}
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.tx = tx
	return tx, nil
}

// Release unbinds tx if it is the bound transaction.
func (c *PgxConn) Release(tx pgx.Tx) {
	if c.tx == tx {
		c.tx = nil
	}
}

// DefaultIsolation is PostgreSQL's default level.
func (c *PgxConn) DefaultIsolation() domain.IsolationLevel {
	return domain.IsolationReadCommitted
}

// Close rolls back a still-bound transaction and closes the pool. A
// borrowed pool is left untouched.
func (c *PgxConn) Close(ctx context.Context) error {
	if c.closed || c.closer == nil {
		return nil
	}
	c.closed = true

	var err error
	if c.tx != nil {
		if rbErr := c.tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			err = rbErr
		}
		c.tx = nil
	}
	c.closer()
	return err
}
