package table

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/georgysavva/scany/v2/sqlscan"
)

type writer[T any] struct {
	conn    *database.SQLConn
	mapping *mapping.Mapping[T]
}

func (w *writer[T]) Insert(ctx context.Context, _ *T, values map[string]any) (int64, error) {
	query, args, err := w.conn.Builder().
		Insert(w.mapping.Table()).
		SetMap(values).
		Suffix("RETURNING " + w.mapping.Key()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("table: build insert: %w", err)
	}

	var key int64
	if err := sqlscan.Get(ctx, w.conn.Executor(), &key, query, args...); err != nil {
		return 0, fmt.Errorf("table: insert into %s: %w", w.mapping.Table(), err)
	}
	return key, nil
}

func (w *writer[T]) Update(ctx context.Context, _ *T, key int64, values map[string]any) error {
	query, args, err := w.conn.Builder().
		Update(w.mapping.Table()).
		SetMap(values).
		Where(squirrel.Eq{w.mapping.Key(): key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("table: build update: %w", err)
	}
	res, err := w.conn.Executor().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("table: update %s: %w", w.mapping.Table(), err)
	}
	return w.expectOne(res, key)
}

func (w *writer[T]) Delete(ctx context.Context, key int64) error {
	query, args, err := w.conn.Builder().
		Delete(w.mapping.Table()).
		Where(squirrel.Eq{w.mapping.Key(): key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("table: build delete: %w", err)
	}
	res, err := w.conn.Executor().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("table: delete from %s: %w", w.mapping.Table(), err)
	}
	return w.expectOne(res, key)
}

// expectOne turns a write that matched no row into a conflict.
func (w *writer[T]) expectOne(res sql.Result, key int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("table: rows affected: %w", err)
	}
	if n != 1 {
		return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d: %d rows affected", w.mapping.Table(), key, n))
	}
	return nil
}
