package pgmodel

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/mapping"
)

type writer[T any] struct {
	conn    *database.PgxConn
	mapping *mapping.Mapping[T]
}

func (w *writer[T]) Insert(ctx context.Context, _ *T, values map[string]any) (int64, error) {
	query, args, err := w.conn.Builder().
		Insert(w.mapping.Table()).
		SetMap(values).
		Suffix("RETURNING " + w.mapping.Key()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("pgmodel: build insert: %w", err)
	}

	var key int64
	if err := w.conn.Querier().QueryRow(ctx, query, args...).Scan(&key); err != nil {
		return 0, fmt.Errorf("pgmodel: insert into %s: %w", w.mapping.Table(), err)
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
		return fmt.Errorf("pgmodel: build update: %w", err)
	}

	tag, err := w.conn.Querier().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgmodel: update %s: %w", w.mapping.Table(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d", w.mapping.Table(), key))
	}
	return nil
}

func (w *writer[T]) Delete(ctx context.Context, key int64) error {
	query, args, err := w.conn.Builder().
		Delete(w.mapping.Table()).
		Where(squirrel.Eq{w.mapping.Key(): key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("pgmodel: build delete: %w", err)
	}

	if _, err := w.conn.Querier().Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("pgmodel: delete from %s: %w", w.mapping.Table(), err)
	}
	return nil
}
