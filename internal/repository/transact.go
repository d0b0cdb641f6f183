package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/telemetry"
)

// Transact runs fn inside a transaction on repo. The transaction is marked
// for commit only when fn returns nil; an error or a panic in fn leaves it
// unmarked, so closing it rolls back. Close errors are joined to the
// returned error. repo is returned for chaining.
func Transact[T any](ctx context.Context, repo Repository[T], iso domain.IsolationLevel, fn func(Repository[T]) error) (_ Repository[T], err error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.transact", telemetry.SpanAttributes{
		Operation: "transact",
		Isolation: iso.String(),
	})
	defer span.End()

	tx, err := repo.Transaction(ctx, iso)
	if err != nil {
		return repo, err
	}
	defer func() {
		if closeErr := tx.Close(ctx); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	if err := fn(repo); err != nil {
		return repo, err
	}

	return repo, tx.Commit()
}

// TransactFunc is Transact for actions that capture the repository
// themselves.
func TransactFunc[T any](ctx context.Context, repo Repository[T], iso domain.IsolationLevel, fn func() error) (Repository[T], error) {
	return Transact(ctx, repo, iso, func(Repository[T]) error { return fn() })
}
