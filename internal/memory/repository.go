// Package memory is the in-memory repository adapter. Writes are immediate,
// identities are never assigned and transactions have nothing to do.
package memory

import (
	"context"
	"iter"
	"slices"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/transaction"
)

var _ repository.Repository[domain.Note] = (*Repository[domain.Note])(nil)

// Repository keeps entity references in insertion order. It is not safe
// for concurrent use.
type Repository[T any] struct {
	entities []*T
	closed   bool
}

func NewRepository[T any](seed ...*T) *Repository[T] {
	r := &Repository[T]{}
	for _, e := range seed {
		if e != nil && !slices.Contains(r.entities, e) {
			r.entities = append(r.entities, e)
		}
	}
	return r
}

func (r *Repository[T]) Persist(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	if !slices.Contains(r.entities, entity) {
		r.entities = append(r.entities, entity)
	}
	return nil
}

// Delete removes entity; unknown references are ignored.
func (r *Repository[T]) Delete(_ context.Context, entity *T) error {
	if err := r.check(entity); err != nil {
		return err
	}
	if i := slices.Index(r.entities, entity); i >= 0 {
		r.entities = slices.Delete(r.entities, i, i+1)
	}
	return nil
}

func (r *Repository[T]) DeleteAll(context.Context) error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	r.entities = nil
	return nil
}

// Refresh has nothing to reload: the stored value is the reference itself.
func (r *Repository[T]) Refresh(_ context.Context, entity *T) error {
	return r.check(entity)
}

func (r *Repository[T]) Commit(context.Context) error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	return nil
}

func (r *Repository[T]) Transaction(_ context.Context, iso domain.IsolationLevel) (transaction.Transaction, error) {
	if r.closed {
		return nil, domain.ErrRepositoryDisposed
	}
	return transaction.NewNoOp(iso), nil
}

// All iterates over a snapshot, so the repository may be modified while
// iterating.
func (r *Repository[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if r.closed {
			yield(nil, domain.ErrRepositoryDisposed)
			return
		}
		for _, e := range slices.Clone(r.entities) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored entities.
func (r *Repository[T]) Len() int { return len(r.entities) }

func (r *Repository[T]) Close() error {
	if r.closed {
		return domain.ErrRepositoryDisposed
	}
	r.closed = true
	r.entities = nil
	return nil
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
