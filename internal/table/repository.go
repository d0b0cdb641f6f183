// Package table is the table-mapping repository adapter over database/sql.
// Rows are scanned with scany; changed entities are written back as whole
// rows and every write must hit exactly one row, so stale updates and
// deletes surface as conflicts on Commit.
package table

import (
	"context"
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
	"github.com/georgysavva/scany/v2/sqlscan"
)

var _ repository.Repository[domain.Note] = (*Repository[domain.Note])(nil)

// Repository is not safe for concurrent use.
type Repository[T any] struct {
	conn    *database.SQLConn
	mapping *mapping.Mapping[T]
	tracker *tracker.Tracker[T]
	closed  bool
}

func NewRepository[T any](conn *database.SQLConn, m *mapping.Mapping[T]) *Repository[T] {
	return &Repository[T]{
		conn:    conn,
		mapping: m,
		tracker: tracker.New(m, tracker.WithFullUpdates()),
	}
}

// Open connects to dsn with driver; the repository owns the connection.
func Open[T any](ctx context.Context, driver, dsn string, m *mapping.Mapping[T]) (*Repository[T], error) {
	conn, err := database.OpenSQL(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewRepository(conn, m), nil
}

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

// DeleteAll stages a delete for each row materialized now.
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
		return fmt.Errorf("table: build query: %w", err)
	}

	fresh := new(T)
	if err := sqlscan.Get(ctx, r.conn.Executor(), fresh, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			r.tracker.Detach(entity)
			return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d", r.mapping.Table(), key))
		}
		return fmt.Errorf("table: refresh: %w", err)
	}

	if r.tracker.State(entity) == tracker.Detached {
		if err := r.tracker.Attach(entity, tracker.Unchanged); err != nil {
			return err
		}
	}
	r.tracker.Reload(entity, fresh)
	return nil
}

// Commit submits staged changes, inside the bound transaction when there is
// one and in a transaction of its own otherwise.
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
		Adapter:   "table",
		Operation: "commit",
	})
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.End()
	}()

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("table: commit: %w", err)
	}
	defer r.conn.Release(tx)

	if err := r.tracker.Flush(ctx, r.writer()); err != nil {
		_ = tx.Rollback()
		r.tracker.Revert()
		return fmt.Errorf("table: commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		r.tracker.Revert()
		return fmt.Errorf("table: commit: %w", err)
	}
	r.tracker.Accept()

	logger.FromContext(ctx).Debug(ctx, "changes submitted",
		logger.String("adapter", "table"),
		logger.String("table", r.mapping.Table()),
	)
	return nil
}

func (r *Repository[T]) Transaction(ctx context.Context, iso domain.IsolationLevel) (transaction.Transaction, error) {
	if r.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	return transaction.NewSQL(ctx, r.conn, &work[T]{repo: r}, iso)
}

// All scans the table in key order, resolving rows to tracked entities.
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
			yield(nil, fmt.Errorf("table: build query: %w", err))
			return
		}

		rows, err := r.conn.Executor().QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("table: query: %w", err))
			return
		}
		defer rows.Close()

		scanner := sqlscan.NewRowScanner(rows)
		for rows.Next() {
			loaded := new(T)
			if err := scanner.Scan(loaded); err != nil {
				yield(nil, fmt.Errorf("table: scan: %w", err))
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
			yield(nil, fmt.Errorf("table: rows: %w", err))
		}
	}
}

func (r *Repository[T]) Close() error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	r.closed = true
	r.tracker.Clear()
	return r.conn.Close()
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
