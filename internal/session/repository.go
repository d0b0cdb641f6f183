// Package session is the session-based repository adapter with manual
// flush over a kv.Store. Entities are stored as JSON records keyed by a
// bucket sequence; the key is handed out on Persist, before anything is
// written.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/kv"
	"github.com/cloo-solutions/repokit/internal/kv/boltkv"
	"github.com/cloo-solutions/repokit/internal/kv/levelkv"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/mapping"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/telemetry"
	"github.com/cloo-solutions/repokit/internal/tracker"
	"github.com/cloo-solutions/repokit/internal/transaction"
)

var _ repository.Repository[domain.Note] = (*Repository[domain.Note])(nil)

// Repository is not safe for concurrent use.
type Repository[T any] struct {
	store   kv.Store
	owns    bool
	mapping *mapping.Mapping[T]
	tracker *tracker.Tracker[T]
	// tx is the native transaction bound by an open handle.
	tx     kv.Tx
	closed bool
}

// NewRepository stores entities of m in the bucket named after m's table.
// The caller keeps ownership of store.
func NewRepository[T any](store kv.Store, m *mapping.Mapping[T]) *Repository[T] {
	return &Repository[T]{
		store:   store,
		mapping: m,
		tracker: tracker.New(m),
	}
}

// OpenBolt opens a bolt file at path; the repository owns it.
func OpenBolt[T any](path string, m *mapping.Mapping[T]) (*Repository[T], error) {
	store, err := boltkv.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewRepository(store, m)
	r.owns = true
	return r, nil
}

// OpenLevelDB opens a leveldb directory at path, or an in-memory database
// when path is empty; the repository owns it.
func OpenLevelDB[T any](path string, m *mapping.Mapping[T]) (*Repository[T], error) {
	var (
		store *levelkv.Store
		err   error
	)
	if path == "" {
		store, err = levelkv.OpenMemory()
	} else {
		store, err = levelkv.Open(path)
	}
	if err != nil {
		return nil, err
	}
	r := NewRepository(store, m)
	r.owns = true
	return r, nil
}

// Persist hands a transient entity its key right away. A detached entity
// that already has one is written in full on the next commit.
func (r *Repository[T]) Persist(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	switch r.tracker.State(entity) {
	case tracker.Detached:
		if r.mapping.KeyOf(entity) != 0 {
			return r.tracker.Attach(entity, tracker.Modified)
		}
		var key uint64
		err := r.update(func(tx kv.Tx) error {
			var err error
			key, err = tx.NextSequence(r.bucket())
			return err
		})
		if err != nil {
			return fmt.Errorf("session: allocate key: %w", err)
		}
		r.mapping.SetKey(entity, int64(key))
		r.tracker.Add(entity)
	case tracker.Deleted:
		r.tracker.Restore(entity)
	}
	return nil
}

// Delete ignores transient entities and stages a delete for anything with
// a key, tracked or not.
func (r *Repository[T]) Delete(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	switch r.tracker.State(entity) {
	case tracker.Detached:
		if r.mapping.KeyOf(entity) == 0 {
			return nil
		}
		if err := r.tracker.Attach(entity, tracker.Unchanged); err != nil {
			return err
		}
	case tracker.Added:
		r.mapping.SetKey(entity, 0)
	}
	return r.tracker.Remove(entity)
}

// DeleteAll stages a delete for each stored record.
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
	r.dropAdded()
	return nil
}

// Refresh is a no-op for entities that were never written.
func (r *Repository[T]) Refresh(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	key := r.mapping.KeyOf(entity)
	if key == 0 || r.tracker.State(entity) == tracker.Added {
		return nil
	}

	var raw []byte
	err := r.view(func(tx kv.Tx) error {
		var err error
		raw, err = tx.Get(r.bucket(), uint64(key))
		return err
	})
	if err != nil {
		return fmt.Errorf("session: refresh: %w", err)
	}
	if raw == nil {
		r.tracker.Detach(entity)
		return domain.ErrEntityNotFound.WithCause(fmt.Errorf("%s %d", r.mapping.Table(), key))
	}

	fresh, err := r.decode(uint64(key), raw)
	if err != nil {
		return err
	}
	if r.tracker.State(entity) == tracker.Detached {
		if err := r.tracker.Attach(entity, tracker.Unchanged); err != nil {
			return err
		}
	}
	r.tracker.Reload(entity, fresh)
	return nil
}

// Commit writes staged changes into the bound transaction, or through a
// write transaction of its own when none is bound.
func (r *Repository[T]) Commit(ctx context.Context) error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	if r.tx != nil {
		return r.tracker.Flush(ctx, &writer[T]{tx: r.tx, repo: r})
	}
	return r.flush(ctx)
}

func (r *Repository[T]) flush(ctx context.Context) (err error) {
	if !r.tracker.HasChanges() {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "repository.commit", telemetry.SpanAttributes{
		Adapter:   "session",
		Operation: "commit",
	})
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.End()
	}()

	tx, err := r.store.Begin(true)
	if err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	if err := r.tracker.Flush(ctx, &writer[T]{tx: tx, repo: r}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		r.tracker.Revert()
		return fmt.Errorf("session: commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		r.tracker.Revert()
		return fmt.Errorf("session: commit: %w", err)
	}
	r.tracker.Accept()

	logger.FromContext(ctx).Debug(ctx, "session flushed",
		logger.String("adapter", "session"),
		logger.String("bucket", r.bucket()),
	)
	return nil
}

// Transaction binds a native write transaction to the session. The store
// has a single isolation level; iso is only reported back.
func (r *Repository[T]) Transaction(ctx context.Context, iso domain.IsolationLevel) (transaction.Transaction, error) {
	if r.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	if r.tx != nil {
		return nil, domain.ErrTransactionActive
	}
	return transaction.NewSession(ctx, &session[T]{repo: r}, iso)
}

type record struct {
	key   uint64
	value []byte
}

// All reads the bucket in key order. Records are read up front so that the
// read transaction is closed before the first entity is yielded.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if r.closed {
			yield(nil, domain.ErrRepositoryDisposed)
			return
		}

		var records []record
		err := r.view(func(tx kv.Tx) error {
			return tx.Scan(r.bucket(), func(key uint64, value []byte) bool {
				records = append(records, record{key: key, value: append([]byte(nil), value...)})
				return true
			})
		})
		if err != nil {
			yield(nil, fmt.Errorf("session: scan: %w", err))
			return
		}

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			loaded, err := r.decode(rec.key, rec.value)
			if err != nil {
				yield(nil, err)
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
	}
}

// Close rolls back a transaction still bound and closes the store when the
// repository opened it.
func (r *Repository[T]) Close() error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	r.closed = true
	r.tracker.Clear()

	var errs []error
	if r.tx != nil {
		if err := r.tx.Rollback(); err != nil && !errors.Is(err, kv.ErrTxClosed) {
			errs = append(errs, err)
		}
		r.tx = nil
	}
	if r.owns {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
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

func (r *Repository[T]) bucket() string { return r.mapping.Table() }

// view runs fn in the bound transaction, or in a read transaction.
func (r *Repository[T]) view(fn func(kv.Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	tx, err := r.store.Begin(false)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

// update runs fn in the bound transaction, or in a write transaction
// committed on success.
func (r *Repository[T]) update(fn func(kv.Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	tx, err := r.store.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository[T]) decode(key uint64, raw []byte) (*T, error) {
	entity := new(T)
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("session: decode %s %d: %w", r.bucket(), key, err)
	}
	r.mapping.SetKey(entity, int64(key))
	return entity, nil
}

// dropAdded forgets staged inserts and takes back the keys they were given.
func (r *Repository[T]) dropAdded() {
	for _, entity := range r.tracker.InState(tracker.Added) {
		r.mapping.SetKey(entity, 0)
	}
	r.tracker.DropAdded()
}

// session exposes the repository to transaction.Session.
type session[T any] struct {
	repo *Repository[T]
}

func (s *session[T]) Begin(context.Context) (transaction.NativeTx, error) {
	tx, err := s.repo.store.Begin(true)
	if err != nil {
		return nil, err
	}
	s.repo.tx = tx
	return tx, nil
}

func (s *session[T]) Release() { s.repo.tx = nil }
func (s *session[T]) Accept()  { s.repo.tracker.Accept() }
func (s *session[T]) Revert()  { s.repo.tracker.Revert() }

// Discard drops every staged change, including keys handed out to staged
// inserts.
func (s *session[T]) Discard() {
	s.repo.tracker.Revert()
	s.repo.dropAdded()
	s.repo.tracker.Discard()
}

func (s *session[T]) Flush(ctx context.Context) error { return s.repo.flush(ctx) }
