package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLConn {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "conn.db") + "?_pragma=busy_timeout(5000)"
	conn, err := OpenSQL(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, MigrateSQLite(context.Background(), conn.DB()))
	return conn
}

func countNotes(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n))
	return n
}

func TestSQLConn_BindsTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)

	assert.False(t, conn.Bound())
	assert.Equal(t, conn.DB(), conn.Executor())

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	assert.True(t, conn.Bound())
	assert.Equal(t, tx, conn.Executor())

	_, err = conn.BeginTx(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrTransactionActive)

	_, err = conn.Executor().ExecContext(ctx, `INSERT INTO notes (title) VALUES (?)`, "draft")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	conn.Release(tx)

	assert.False(t, conn.Bound())
	assert.Equal(t, 0, countNotes(t, conn.DB()))
}

func TestSQLConn_ReleaseIgnoresForeignTx(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	conn.Release(&sql.Tx{})
	assert.True(t, conn.Bound())
}

func TestSQLConn_CloseRollsBackBoundTx(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "close.db")

	conn, err := OpenSQL(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, MigrateSQLite(ctx, conn.DB()))

	_, err = conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = conn.Executor().ExecContext(ctx, `INSERT INTO notes (title) VALUES (?)`, "lost")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.BeginTx(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrRepositoryDisposed)

	reopened, err := sql.Open(DriverSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 0, countNotes(t, reopened))
}

func TestSQLConn_BorrowedDBStaysOpen(t *testing.T) {
	db, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "borrowed.db"))
	require.NoError(t, err)
	defer db.Close()

	conn := NewSQLConn(db, DriverSQLite)
	require.NoError(t, MigrateSQLite(context.Background(), db))
	require.NoError(t, conn.Close())
	assert.NoError(t, db.Ping())

	tx, err := conn.BeginTx(context.Background(), nil)
	require.NoError(t, err, "a borrowed connection stays usable after Close")
	_, err = conn.Executor().ExecContext(context.Background(), `INSERT INTO notes (title) VALUES (?)`, "shared")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	conn.Release(tx)
	assert.Equal(t, 1, countNotes(t, db))
}

func TestSQLConn_DefaultIsolation(t *testing.T) {
	assert.Equal(t, domain.IsolationSerializable, NewSQLConn(nil, DriverSQLite).DefaultIsolation())
	assert.Equal(t, domain.IsolationReadCommitted, NewSQLConn(nil, DriverPgx).DefaultIsolation())
	assert.Equal(t, domain.IsolationReadCommitted, NewSQLConn(nil, DriverPostgres).DefaultIsolation())
	assert.Equal(t, domain.IsolationUnspecified, NewSQLConn(nil, "mysql").DefaultIsolation())
}

func TestSQLConn_BuilderPlaceholders(t *testing.T) {
	query, _, err := NewSQLConn(nil, DriverSQLite).Builder().
		Select("id").From("notes").Where("id = ?", 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM notes WHERE id = ?", query)

	query, _, err = NewSQLConn(nil, DriverPgx).Builder().
		Select("id").From("notes").Where("id = ?", 1).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM notes WHERE id = $1", query)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "nosuchdriver", "")
	assert.Error(t, err)
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)

	require.NoError(t, MigrateSQLite(ctx, conn.DB()))
	require.NoError(t, Migrate(ctx, conn, ""))

	_, err := conn.DB().ExecContext(ctx, `INSERT INTO notes (title, body) VALUES (?, ?)`, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, countNotes(t, conn.DB()))
}

func TestMigrate_UnknownDriver(t *testing.T) {
	err := Migrate(context.Background(), NewSQLConn(nil, "mysql"), "")
	assert.Error(t, err)
}
