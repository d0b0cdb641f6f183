package memory

import (
	"context"
	"testing"

	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/repository/repositorytest"
	"github.com/cloo-solutions/repokit/internal/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Contract(t *testing.T) {
	repositorytest.Run(t, repositorytest.Harness{
		New: func(t *testing.T) repository.Repository[domain.Note] {
			return NewRepository[domain.Note]()
		},
		AssignsIdentity: false,
		Transactional:   false,
		Refreshes:       false,
	})
}

func TestRepository_DeleteUnknownIsTolerated(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[domain.Note]()
	kept := domain.NewNote("kept", "")
	require.NoError(t, repo.Persist(ctx, kept))

	require.NoError(t, repo.Delete(ctx, domain.NewNote("stranger", "")))
	assert.Equal(t, 1, repo.Len())
}

func TestRepository_WritesAreImmediate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[domain.Note]()
	note := domain.NewNote("immediate", "")

	require.NoError(t, repo.Persist(ctx, note))
	n, err := repository.Count(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRepository_SeedSkipsDuplicatesAndNil(t *testing.T) {
	note := domain.NewNote("seeded", "")
	repo := NewRepository(note, nil, note)
	assert.Equal(t, 1, repo.Len())
}

func TestRepository_TransactionIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[domain.Note]()

	tx, err := repo.Transaction(ctx, domain.IsolationChaos)
	require.NoError(t, err)
	assert.IsType(t, &transaction.NoOp{}, tx)
	assert.Equal(t, domain.IsolationChaos, tx.IsolationLevel())
	require.NoError(t, repo.Persist(ctx, domain.NewNote("inside", "")))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Close(ctx))

	assert.Equal(t, 1, repo.Len())
}

func TestRepository_AllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := NewRepository(domain.NewNote("a", ""), domain.NewNote("b", ""))
	cancel()

	_, err := repository.Collect(ctx, repo)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepository_AllToleratesModificationWhileIterating(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(domain.NewNote("a", ""), domain.NewNote("b", ""))

	seen := 0
	for note, err := range repo.All(ctx) {
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, note))
		seen++
	}
	assert.Equal(t, 2, seen)
	assert.Zero(t, repo.Len())
}
