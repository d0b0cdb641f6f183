package database

import (
	"context"
	"testing"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgxConn_BindsTransaction(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	conn := NewPgxConn(mock)
	assert.Equal(t, mock, conn.Querier())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notes").
		WithArgs("draft").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)
	assert.True(t, conn.Bound())
	assert.Equal(t, tx, conn.Querier())

	_, err = conn.BeginTx(ctx, pgx.TxOptions{})
	assert.ErrorIs(t, err, domain.ErrTransactionActive)

	_, err = conn.Querier().Exec(ctx, "INSERT INTO notes (title) VALUES ($1)", "draft")
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))
	conn.Release(tx)
	assert.False(t, conn.Bound())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxConn_CloseRollsBackBoundTx(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	conn := NewPgxConn(mock)
	poolClosed := 0
	conn.closer = func() { poolClosed++ }

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = conn.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
	assert.False(t, conn.Bound())
	assert.Equal(t, 1, poolClosed)

	_, err = conn.BeginTx(ctx, pgx.TxOptions{})
	assert.ErrorIs(t, err, domain.ErrRepositoryDisposed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxConn_CloseBorrowedPoolIsNoOp(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	conn := NewPgxConn(mock)
	require.NoError(t, conn.Close(ctx))

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	conn.Release(tx)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxConn_Defaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	conn := NewPgxConn(mock)
	assert.Equal(t, domain.IsolationReadCommitted, conn.DefaultIsolation())

	_, ok := conn.Pool()
	assert.False(t, ok)

	query, _, err := conn.Builder().Select("id").From("notes").Where("id = ?", 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM notes WHERE id = $1", query)
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "notes"}
	assert.Equal(t, "postgres://u:p@db:5432/notes", cfg.dsn())

	cfg.URL = "postgres://other/db"
	assert.Equal(t, "postgres://other/db", cfg.dsn())
}
