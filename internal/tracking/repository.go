// Package tracking is the change-tracking repository adapter over
// database/sql. Loaded and persisted entities are kept in an identity map;
// edits to tracked entities are detected by snapshot diffing and written as
// partial updates on Commit.
package tracking

import (
	"context"
	"database/sql"
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

// NewRepository stores T through conn. The connection is closed with the
// repository only when it owns its database.
func NewRepository[T any](conn *database.SQLConn, m *mapping.Mapping[T]) *Repository[T] {
	return &Repository[T]{
		conn:    conn,
		mapping: m,
		tracker: tracker.New(m),
	}
}

// Open connects to dsn with driver and returns a repository that owns the
// connection.
func Open[T any](ctx context.Context, driver, dsn string, m *mapping.Mapping[T]) (*Repository[T], error) {
	conn, err := database.OpenSQL(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewRepository(conn, m), nil
}

// Persist stages entity for insertion, or for an update when it already
// carries a key.
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
	// tracked edits are picked up by the diff at flush time
	return nil
}

func (r *Repository[T]) Delete(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	return r.tracker.Remove(entity)
}

// DeleteAll stages a delete for every row visible now and drops staged
// inserts. Rows inserted by others before Commit are left alone.
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

// Refresh overwrites entity with its stored row. An entity whose row has
// disappeared is detached.
func (r *Repository[T]) Refresh(ctx context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	key := r.mapping.KeyOf(entity)
	if key == 0 {
		return domain.ErrEntityNotPersisted
	}

	fresh, err := r.load(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		r.tracker.Detach(entity)
		return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d", r.mapping.Table(), key))
	}
	if err != nil {
		return fmt.Errorf("tracking: refresh: %w", err)
	}

	if r.tracker.State(entity) == tracker.Detached {
		if err := r.tracker.Attach(entity, tracker.Unchanged); err != nil {
			return err
		}
	}
	r.tracker.Reload(entity, fresh)
	return nil
}

// Commit flushes staged changes. Inside a transaction the changes ride on
// it; otherwise they are written in a transaction of their own.
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
		Adapter:   "tracking",
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
		return fmt.Errorf("tracking: commit: %w", err)
	}
	defer r.conn.Release(tx)

	if err := r.tracker.Flush(ctx, r.writer()); err != nil {
		_ = tx.Rollback()
		r.tracker.Revert()
		return fmt.Errorf("tracking: commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		r.tracker.Revert()
		return fmt.Errorf("tracking: commit: %w", err)
	}
	r.tracker.Accept()

	logger.FromContext(ctx).Debug(ctx, "changes committed",
		logger.String("adapter", "tracking"),
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

// All queries the table in key order. Rows matching a tracked entity yield
// that entity; rows staged for deletion are skipped.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if r.closed {
			yield(nil, domain.ErrRepositoryDisposed)
			return
		}

		columns := r.mapping.AllColumns()
		query, args, err := r.conn.Builder().
			Select(columns...).
			From(r.mapping.Table()).
			OrderBy(r.mapping.Key()).
			ToSql()
		if err != nil {
			yield(nil, fmt.Errorf("tracking: build query: %w", err))
			return
		}

		rows, err := r.conn.Executor().QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("tracking: query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			loaded := new(T)
			ptrs, err := r.mapping.Pointers(loaded, columns)
			if err != nil {
				yield(nil, err)
				return
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, fmt.Errorf("tracking: scan: %w", err))
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
			yield(nil, fmt.Errorf("tracking: rows: %w", err))
		}
	}
}

// Count returns the number of stored rows with a single query.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	if r.closed {
		return 0, domain.ErrRepositoryDisposed
	}
	query, args, err := r.conn.Builder().Select("COUNT(*)").From(r.mapping.Table()).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlscan.Get(ctx, r.conn.Executor(), &n, query, args...); err != nil {
		return 0, fmt.Errorf("tracking: count: %w", err)
	}
	return n, nil
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

func (r *Repository[T]) load(ctx context.Context, key int64) (*T, error) {
	columns := r.mapping.AllColumns()
	query, args, err := r.conn.Builder().
		Select(columns...).
		From(r.mapping.Table()).
		Where(squirrel.Eq{r.mapping.Key(): key}).
		ToSql()
	if err != nil {
		return nil, err
	}

	fresh := new(T)
	ptrs, err := r.mapping.Pointers(fresh, columns)
	if err != nil {
		return nil, err
	}
	if err := r.conn.Executor().QueryRowContext(ctx, query, args...).Scan(ptrs...); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r *Repository[T]) writer() *writer[T] {
	return &writer[T]{conn: r.conn, mapping: r.mapping}
}

// work settles the tracker for a transaction handle.
type work[T any] struct {
	repo *Repository[T]
}

func (w *work[T]) Flush(ctx context.Context) error {
	return w.repo.tracker.Flush(ctx, w.repo.writer())
}

func (w *work[T]) Accept()  { w.repo.tracker.Accept() }
func (w *work[T]) Revert()  { w.repo.tracker.Revert() }
func (w *work[T]) Discard() { w.repo.tracker.Discard() }
