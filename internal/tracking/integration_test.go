//go:build integration

package tracking

import (
	"context"
	"database/sql"
	"testing"

	"github.com/cloo-solutions/repokit/internal/database"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/cloo-solutions/repokit/internal/repository/repositorytest"
	"github.com/cloo-solutions/repokit/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestRepository_Postgres(t *testing.T) {
	ctx := context.Background()

	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)
	defer pool.Close()

	for _, driver := range []string{database.DriverPgx, database.DriverPostgres} {
		t.Run(driver, func(t *testing.T) {
			db, err := sql.Open(driver, pc.ConnectionString())
			require.NoError(t, err)
			defer db.Close()

			repositorytest.Run(t, repositorytest.Harness{
				New: func(t *testing.T) repository.Repository[domain.Note] {
					require.NoError(t, testutil.TruncateNotes(ctx, pool))
					return NewRepository(database.NewSQLConn(db, driver), notes)
				},
				AssignsIdentity: true,
				Transactional:   true,
				Refreshes:       true,
			})
		})
	}
}
