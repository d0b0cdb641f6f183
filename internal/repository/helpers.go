package repository

import "context"

// Save persists entity and commits right away.
func Save[T any](ctx context.Context, repo Repository[T], entity *T) error {
	if err := repo.Persist(ctx, entity); err != nil {
		return err
	}
	return repo.Commit(ctx)
}

// Remove deletes entity and commits right away.
func Remove[T any](ctx context.Context, repo Repository[T], entity *T) error {
	if err := repo.Delete(ctx, entity); err != nil {
		return err
	}
	return repo.Commit(ctx)
}

// Reload refreshes entity and returns it, for use in expressions.
func Reload[T any](ctx context.Context, repo Repository[T], entity *T) (*T, error) {
	if err := repo.Refresh(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}
