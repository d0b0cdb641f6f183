// Package repository defines the storage-agnostic contract every adapter
// implements, plus helpers that work against any adapter.
package repository

import (
	"context"
	"iter"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/transaction"
)

// Repository stores entities of type T. Persist, Delete, DeleteAll and
// Refresh stage work; Commit, or committing a Transaction, makes it
// durable. Implementations are not safe for concurrent use.
//
// Every operation fails with domain.ErrNilEntity for a nil entity and with
// domain.ErrRepositoryDisposed once Close has been called.
type Repository[T any] interface {
	// Persist stages an insert-or-update of entity. Persisting the same
	// reference twice yields one stored entity.
	Persist(ctx context.Context, entity *T) error
	// Delete stages the removal of entity.
	Delete(ctx context.Context, entity *T) error
	// DeleteAll stages the removal of every entity visible right now.
	DeleteAll(ctx context.Context) error
	// Refresh discards local modifications of entity by reloading it.
	Refresh(ctx context.Context, entity *T) error
	// Commit makes staged work durable.
	Commit(ctx context.Context) error
	// Transaction begins a transaction on the repository's own resource.
	Transaction(ctx context.Context, iso domain.IsolationLevel) (transaction.Transaction, error)
	// All lazily enumerates the stored entities. Entities already known to
	// the repository are yielded as the same reference.
	All(ctx context.Context) iter.Seq2[*T, error]
	// Close releases the underlying resource when the repository owns it.
	Close() error
}

// Collect drains All into a slice.
func Collect[T any](ctx context.Context, repo Repository[T]) ([]*T, error) {
	var out []*T
	for entity, err := range repo.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Count returns how many entities All yields.
func Count[T any](ctx context.Context, repo Repository[T]) (int, error) {
	n := 0
	for _, err := range repo.All(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Find returns the first entity matching pred, or false.
func Find[T any](ctx context.Context, repo Repository[T], pred func(*T) bool) (*T, bool, error) {
	for entity, err := range repo.All(ctx) {
		if err != nil {
			return nil, false, err
		}
		if pred(entity) {
			return entity, true, nil
		}
	}
	return nil, false, nil
}
