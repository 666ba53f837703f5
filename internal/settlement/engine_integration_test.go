//go:build integration

package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage/postgres"
)

// newPostgresStore starts a disposable PostgreSQL container and returns a
// connected store with a lock_timeout long enough for the races below.
func newPostgresStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("jobsettle"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, connStr, postgres.WithLockTimeout(10*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIntegration_Postgres_Settle(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	t.Run("scenarios", func(t *testing.T) {
		client := newAccount(t, store, models.AccountKindClient, "100")
		contractor := newAccount(t, store, models.AccountKindContractor, "0")
		wu := newWorkUnit(t, store, client, contractor, "40")
		engine := New(store, WithLogger(quietLogger()))

		_, err := engine.Settle(ctx, wu.ID, contractor.ID)
		assert.ErrorIs(t, err, ErrForbidden)

		receipt, err := engine.Settle(ctx, wu.ID, client.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AgreementTerminated, receipt.AgreementStatus)
		assertBalance(t, store, client.ID, "60")
		assertBalance(t, store, contractor.ID, "40")

		got, err := store.GetWorkUnit(ctx, wu.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PaidAt)
		assert.True(t, got.PaidAt.Equal(receipt.PaidAt))

		_, err = engine.Settle(ctx, wu.ID, client.ID)
		assert.ErrorIs(t, err, ErrAlreadyPaid)

		poor := newAccount(t, store, models.AccountKindClient, "30")
		dear := newWorkUnit(t, store, poor, contractor, "40")
		_, err = engine.Settle(ctx, dear.ID, poor.ID)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assertBalance(t, store, poor.ID, "30")
		assertUnsettled(t, store, dear)
	})

	t.Run("same work unit settles once", func(t *testing.T) {
		checkSeparateEnginesSameWorkUnit(t, store)
	})

	t.Run("shared payer never overdraws", func(t *testing.T) {
		checkSeparateEnginesOverdraw(t, store)
	})
}
