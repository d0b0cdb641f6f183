// Package pgmodel is the database-first repository adapter over pgx. The
// entity mapping is checked against the live table on construction; mapped
// fields the table lacks are ignored.
package pgmodel

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/Masterminds/squirrel"
	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/telemetry"
	"github.com/cloo-solutions/repokit/internal/tracker"
	"github.com/cloo-solutions/repokit/internal/transaction"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

var _ repository.Repository[domain.Note] = (*Repository[domain.Note])(nil)

// Repository is not safe for concurrent use.
type Repository[T any] struct {
	conn    *database.PgxConn
	mapping *mapping.Mapping[T]
	tracker *tracker.Tracker[T]
	closed  bool
}

// NewRepository reads the columns of m's table and restricts m to them.
func NewRepository[T any](ctx context.Context, conn *database.PgxConn, m *mapping.Mapping[T]) (*Repository[T], error) {
	columns, err := tableColumns(ctx, conn, m.Table())
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("pgmodel: table %s does not exist", m.Table())
	}

	restricted, err := m.Restrict(columns)
	if err != nil {
		return nil, err
	}
	if dropped := len(m.Columns()) - len(restricted.Columns()); dropped > 0 {
		logger.FromContext(ctx).Warn(ctx, "mapped columns missing from table",
			logger.String("table", m.Table()),
			logger.Int("dropped", dropped),
		)
	}

	return &Repository[T]{
		conn:    conn,
		mapping: restricted,
		tracker: tracker.New(restricted),
	}, nil
}

// Open creates a pool from cfg; the repository owns it.
func Open[T any](ctx context.Context, cfg database.Config, m *mapping.Mapping[T]) (*Repository[T], error) {
	conn, err := database.OpenPgx(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(ctx, conn, m)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return repo, nil
}

func tableColumns(ctx context.Context, conn *database.PgxConn, table string) ([]string, error) {
	query, args, err := conn.Builder().
		Select("column_name").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_name": table}).
		Where("table_schema = current_schema()").
		OrderBy("ordinal_position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgmodel: build introspection query: %w", err)
	}

	var columns []string
	if err := pgxscan.Select(ctx, conn.Querier(), &columns, query, args...); err != nil {
		return nil, fmt.Errorf("pgmodel: read columns of %s: %w", table, err)
	}
	return columns, nil
}

// Mapping returns the mapping restricted to the table's columns.
func (r *Repository[T]) Mapping() *mapping.Mapping[T] { return r.mapping }

func (r *Repository[T]) Persist(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	switch r.tracker.State(entity) {
	case tracker.Detached:
		if r.mapping.KeyOf(entity) == 0 {
			r.tracker.Add(entity)
			return nil
		}
		return r.tracker.Attach(entity, tracker.Modified)
	case tracker.Deleted:
		r.tracker.Restore(entity)
	}
	return nil
}

func (r *Repository[T]) Delete(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	return r.tracker.Remove(entity)
}

// DeleteAll stages a delete for each row visible now.
func (r *Repository[T]) DeleteAll(ctx context.Context) error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	entities, err := repository.Collect[T](ctx, r)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := r.tracker.Remove(entity); err != nil {
			return err
		}
	}
	r.tracker.DropAdded()
	return nil
}

func (r *Repository[T]) Refresh(ctx context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	key := r.mapping.KeyOf(entity)
	if key == 0 {
		return domain.ErrEntityNotPersisted
	}

	query, args, err := r.conn.Builder().
		Select(r.mapping.AllColumns()...).
		From(r.mapping.Table()).
		Where(squirrel.Eq{r.mapping.Key(): key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("pgmodel: build query: %w", err)
	}

	fresh := new(T)
	if err := pgxscan.Get(ctx, r.conn.Querier(), fresh, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			r.tracker.Detach(entity)
			return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d", r.mapping.Table(), key))
		}
		return fmt.Errorf("pgmodel: refresh: %w", err)
	}

	if r.tracker.State(entity) == tracker.Detached {
		if err := r.tracker.Attach(entity, tracker.Unchanged); err != nil {
			return err
		}
	}
	r.tracker.Reload(entity, fresh)
	return nil
}

// Commit saves staged changes through the bound transaction, or through a
// transaction of its own when none is bound.
func (r *Repository[T]) Commit(ctx context.Context) (err error) {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	if r.conn.Bound() {
		return r.tracker.Flush(ctx, r.writer())
	}
	if !r.tracker.HasChanges() {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "repository.commit", telemetry.SpanAttributes{
		Adapter:   "pgmodel",
		Operation: "commit",
	})
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.End()
	}()

	tx, err := r.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("pgmodel: commit: %w", err)
	}
	defer r.conn.Release(tx)

	if err := r.tracker.Flush(ctx, r.writer()); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, rbErr)
		}
		r.tracker.Revert()
		return fmt.Errorf("pgmodel: commit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		r.tracker.Revert()
		return fmt.Errorf("pgmodel: commit: %w", err)
	}
	r.tracker.Accept()
	return nil
}

func (r *Repository[T]) Transaction(ctx context.Context, iso domain.IsolationLevel) (transaction.Transaction, error) {
	if r.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	return transaction.NewPgx(ctx, r.conn, &work[T]{repo: r}, iso)
}

// All streams the table in key order.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if r.closed {
			yield(nil, domain.ErrRepositoryDisposed)
			return
		}

		query, args, err := r.conn.Builder().
			Select(r.mapping.AllColumns()...).
			From(r.mapping.Table()).
			OrderBy(r.mapping.Key()).
			ToSql()
		if err != nil {
			yield(nil, fmt.Errorf("pgmodel: build query: %w", err))
			return
		}

		rows, err := r.conn.Querier().Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("pgmodel: query: %w", err))
			return
		}
		defer rows.Close()

		scanner := pgxscan.NewRowScanner(rows)
		for rows.Next() {
			loaded := new(T)
			if err := scanner.Scan(loaded); err != nil {
				yield(nil, fmt.Errorf("pgmodel: scan: %w", err))
				return
			}
			entity, visible := r.tracker.Resolve(loaded)
			if !visible {
				continue
			}
			if !yield(entity, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("pgmodel: rows: %w", err))
		}
	}
}

func (r *Repository[T]) Close() error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	r.closed = true
	r.tracker.Clear()
	return r.conn.Close(context.Background())
}

func (r *Repository[T]) check(entity *T) error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	if entity == nil {
		return domain.ErrNilEntity
	}
	return nil
}

func (r *Repository[T]) writer() *writer[T] {
	return &writer[T]{conn: r.conn, mapping: r.mapping}
}

type work[T any] struct {
	repo *Repository[T]
}

func (w *work[T]) Flush(ctx context.Context) error {
	return w.repo.tracker.Flush(ctx, w.repo.writer())
}

func (w *work[T]) Accept()  { w.repo.tracker.Accept() }
func (w *work[T]) Revert()  { w.repo.tracker.Revert() }
func (w *work[T]) Discard() { w.repo.tracker.Discard() }
