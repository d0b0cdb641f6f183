// Package repositorytest holds the behaviour every repository adapter must
// show, as a suite adapters run from their own tests.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness describes an adapter under test.
type Harness struct {
	// New returns an empty repository of notes. The suite closes it.
	New func(t *testing.T) repository.Repository[domain.Note]
	// AssignsIdentity is true when Commit sets a non-zero ID.
	AssignsIdentity bool
	// Transactional is false for adapters whose writes are immediate and
	// whose transactions therefore have nothing to roll back.
	Transactional bool
	// Refreshes is true when Refresh reloads stored state.
	Refreshes bool
}

var errAbort = errors.New("abort")

// Run executes the suite against h.
func Run(t *testing.T, h Harness) {
	t.Run("starts empty", func(t *testing.T) {
		repo := open(t, h)
		assert.Empty(t, all(t, repo))
	})

	t.Run("persist then commit is enumerable", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		note := domain.NewNote("committed note", "body")

		require.NoError(t, repo.Persist(ctx, note))
		if h.Transactional {
			assert.Empty(t, all(t, repo), "staged persist must not be visible before commit")
		}
		require.NoError(t, repo.Commit(ctx))

		notes := all(t, repo)
		require.Len(t, notes, 1)
		assert.Same(t, note, notes[0])
		if h.AssignsIdentity {
			assert.NotZero(t, note.ID)
		} else {
			assert.Zero(t, note.ID)
		}
	})

	t.Run("refresh reverts local edits", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		note := domain.NewNote("committed", "body")
		require.NoError(t, repository.Save(ctx, repo, note))

		note.Title = "edited"
		require.NoError(t, repo.Refresh(ctx, note))

		if h.Refreshes {
			assert.Equal(t, "committed", note.Title)
		} else {
			assert.Equal(t, "edited", note.Title)
		}
	})

	t.Run("failed action inside transact rolls back", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		require.NoError(t, repository.Save(ctx, repo, domain.NewNote("existing", "")))
		before := count(t, repo)

		_, err := repository.Transact(ctx, repo, domain.IsolationUnspecified, func(r repository.Repository[domain.Note]) error {
			if err := r.Persist(ctx, domain.NewNote("doomed", "")); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		if h.Transactional {
			assert.Equal(t, before, count(t, repo))
		} else {
			assert.Equal(t, before+1, count(t, repo))
		}
	})

	t.Run("panic inside transact rolls back", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		before := count(t, repo)

		assert.Panics(t, func() {
			_, _ = repository.Transact(ctx, repo, domain.IsolationUnspecified, func(r repository.Repository[domain.Note]) error {
				_ = r.Persist(ctx, domain.NewNote("doomed", ""))
				panic("boom")
			})
		})

		if h.Transactional {
			assert.Equal(t, before, count(t, repo))
		}
	})

	t.Run("successful action inside transact commits", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		before := count(t, repo)
		note := domain.NewNote("transacted note", "")

		got, err := repository.Transact(ctx, repo, domain.IsolationUnspecified, func(r repository.Repository[domain.Note]) error {
			return r.Persist(ctx, note)
		})
		require.NoError(t, err)
		assert.Same(t, repo, got)

		assert.Equal(t, before+1, count(t, repo))
		if h.AssignsIdentity {
			assert.NotZero(t, note.ID)
		}
	})

	t.Run("explicit transaction commit and rollback", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)

		tx, err := repo.Transaction(ctx, domain.IsolationUnspecified)
		require.NoError(t, err)
		require.NoError(t, repo.Persist(ctx, domain.NewNote("kept", "")))
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Close(ctx))
		assert.Equal(t, 1, count(t, repo))

		tx, err = repo.Transaction(ctx, domain.IsolationUnspecified)
		require.NoError(t, err)
		require.NoError(t, repo.Persist(ctx, domain.NewNote("dropped", "")))
		require.NoError(t, tx.Rollback())
		require.NoError(t, tx.Close(ctx))
		if h.Transactional {
			assert.Equal(t, 1, count(t, repo))
		} else {
			assert.Equal(t, 2, count(t, repo))
		}
	})

	t.Run("unmarked transaction close discards", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)

		tx, err := repo.Transaction(ctx, domain.IsolationUnspecified)
		require.NoError(t, err)
		require.NoError(t, repo.Persist(ctx, domain.NewNote("unmarked", "")))
		require.NoError(t, repo.Commit(ctx))
		require.NoError(t, tx.Close(ctx))

		if h.Transactional {
			assert.Zero(t, count(t, repo))
		} else {
			assert.Equal(t, 1, count(t, repo))
		}
	})

	t.Run("closed transaction rejects further use", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)

		tx, err := repo.Transaction(ctx, domain.IsolationSerializable)
		require.NoError(t, err)
		require.NoError(t, tx.Close(ctx))

		assert.ErrorIs(t, tx.Close(ctx), domain.ErrTransactionDisposed)
		assert.ErrorIs(t, tx.Commit(), domain.ErrTransactionDisposed)
		assert.ErrorIs(t, tx.Rollback(), domain.ErrTransactionDisposed)
		assert.Equal(t, domain.IsolationSerializable, tx.IsolationLevel())
	})

	t.Run("persisting the same reference twice stores one entity", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		note := domain.NewNote("first", "")

		require.NoError(t, repo.Persist(ctx, note))
		note.Title = "second"
		require.NoError(t, repo.Persist(ctx, note))
		require.NoError(t, repo.Commit(ctx))

		notes := all(t, repo)
		require.Len(t, notes, 1)
		assert.Equal(t, "second", notes[0].Title)

		note.Title = "third"
		require.NoError(t, repo.Persist(ctx, note))
		require.NoError(t, repo.Commit(ctx))
		require.NoError(t, repo.Refresh(ctx, note))
		notes = all(t, repo)
		require.Len(t, notes, 1)
		assert.Equal(t, "third", notes[0].Title)
	})

	t.Run("persist commit delete commit round trip", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		note := domain.NewNote("round trip", "")

		require.NoError(t, repository.Save(ctx, repo, note))
		require.Len(t, all(t, repo), 1)

		require.NoError(t, repository.Remove(ctx, repo, note))
		assert.Empty(t, all(t, repo))
	})

	t.Run("delete all", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)
		for i := range 3 {
			require.NoError(t, repo.Persist(ctx, domain.NewNote(fmt.Sprintf("note %d", i), "")))
		}
		require.NoError(t, repo.Commit(ctx))
		require.Equal(t, 3, count(t, repo))

		require.NoError(t, repo.Persist(ctx, domain.NewNote("staged", "")))
		require.NoError(t, repo.DeleteAll(ctx))
		require.NoError(t, repo.Commit(ctx))

		assert.Zero(t, count(t, repo))
	})

	t.Run("nil entity is rejected", func(t *testing.T) {
		ctx := context.Background()
		repo := open(t, h)

		assert.ErrorIs(t, repo.Persist(ctx, nil), domain.ErrNilEntity)
		assert.ErrorIs(t, repo.Delete(ctx, nil), domain.ErrNilEntity)
		assert.ErrorIs(t, repo.Refresh(ctx, nil), domain.ErrNilEntity)
	})

	t.Run("closed repository rejects further use", func(t *testing.T) {
		ctx := context.Background()
		repo := h.New(t)
		require.NoError(t, repo.Close())

		note := domain.NewNote("late", "")
		assert.ErrorIs(t, repo.Persist(ctx, note), domain.ErrRepositoryDisposed)
		assert.ErrorIs(t, repo.Delete(ctx, note), domain.ErrRepositoryDisposed)
		assert.ErrorIs(t, repo.DeleteAll(ctx), domain.ErrRepositoryDisposed)
		assert.ErrorIs(t, repo.Refresh(ctx, note), domain.ErrRepositoryDisposed)
		assert.ErrorIs(t, repo.Commit(ctx), domain.ErrRepositoryDisposed)
		_, err := repo.Transaction(ctx, domain.IsolationUnspecified)
		assert.ErrorIs(t, err, domain.ErrRepositoryDisposed)
		_, err = repository.Collect(ctx, repo)
		assert.ErrorIs(t, err, domain.ErrRepositoryDisposed)
		assert.ErrorIs(t, repo.Close(), domain.ErrRepositoryDisposed)
	})
}

func open(t *testing.T, h Harness) repository.Repository[domain.Note] {
	t.Helper()
	repo := h.New(t)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func all(t *testing.T, repo repository.Repository[domain.Note]) []*domain.Note {
	t.Helper()
	notes, err := repository.Collect(context.Background(), repo)
	require.NoError(t, err)
	return notes
}

func count(t *testing.T, repo repository.Repository[domain.Note]) int {
	t.Helper()
	n, err := repository.Count(context.Background(), repo)
	require.NoError(t, err)
	return n
}
