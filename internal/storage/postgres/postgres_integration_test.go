//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

// setupPostgresContainer starts a disposable PostgreSQL container and returns
// a connected Store. The container is terminated on test cleanup.
func setupPostgresContainer(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return connect(t, startPostgres(t), opts...)
}

func connect(t *testing.T, connStr string, opts ...Option) *Store {
	t.Helper()
	store, err := New(context.Background(), connStr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// startPostgres starts the container and returns its connection string.
func startPostgres(t *testing.T) string {
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
	return connStr
}

func seed(t *testing.T, store *Store, balance, price string) (*models.Account, *models.Account, *models.WorkUnit) {
	t.Helper()
	ctx := context.Background()

	client := &models.Account{FirstName: "Ash", LastName: "Kethcum", Profession: "Pokemon master",
		Kind: models.AccountKindClient, Balance: decimal.RequireFromString(balance)}
	contractor := &models.Account{FirstName: "John", LastName: "Snow", Profession: "Knows nothing",
		Kind: models.AccountKindContractor}
	require.NoError(t, store.CreateAccount(ctx, client))
	require.NoError(t, store.CreateAccount(ctx, contractor))

	agreement := &models.Agreement{Terms: "bla bla bla", PayingAccountID: client.ID, EarningAccountID: contractor.ID}
	require.NoError(t, store.CreateAgreement(ctx, agreement))

	wu := &models.WorkUnit{AgreementID: agreement.ID, Description: "work", Price: decimal.RequireFromString(price)}
	require.NoError(t, store.CreateWorkUnit(ctx, wu))

	return client, contractor, wu
}

func TestIntegration_Postgres_SettlementWrites(t *testing.T) {
	store := setupPostgresContainer(t)
	ctx := context.Background()
	client, contractor, wu := seed(t, store, "100.00", "40.50")

	paidAt := time.Now().UTC().Truncate(time.Microsecond)
	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		accounts, err := tx.LockAccounts(ctx, contractor.ID, client.ID)
		if err != nil {
			return err
		}
		assert.Len(t, accounts, 2)

		locked, err := tx.LockWorkUnit(ctx, wu.ID)
		if err != nil {
			return err
		}
		if err := tx.ApplyBalanceDelta(ctx, client.ID, locked.Price.Neg()); err != nil {
			return err
		}
		if err := tx.ApplyBalanceDelta(ctx, contractor.ID, locked.Price); err != nil {
			return err
		}
		if err := tx.TerminateAgreement(ctx, locked.Agreement.ID, locked.Agreement.Version); err != nil {
			return err
		}
		return tx.MarkWorkUnitPaid(ctx, locked.ID, locked.Version, paidAt)
	})
	require.NoError(t, err)

	got, err := store.GetWorkUnit(ctx, wu.ID)
	require.NoError(t, err)
	assert.True(t, got.Paid)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(paidAt))
	assert.Equal(t, models.AgreementTerminated, got.Agreement.Status)

	c, err := store.GetAccount(ctx, client.ID)
	require.NoError(t, err)
	k, err := store.GetAccount(ctx, contractor.ID)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.RequireFromString("59.50")), "client balance %s", c.Balance)
	assert.True(t, k.Balance.Equal(decimal.RequireFromString("40.50")), "contractor balance %s", k.Balance)
}

func TestIntegration_Postgres_RollbackAndGuards(t *testing.T) {
	store := setupPostgresContainer(t)
	ctx := context.Background()
	client, _, wu := seed(t, store, "30", "40")

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		assert.ErrorIs(t, tx.ApplyBalanceDelta(ctx, client.ID, decimal.NewFromInt(-40)), storage.ErrNegativeBalance)
		assert.ErrorIs(t, tx.ApplyBalanceDelta(ctx, "missing", decimal.NewFromInt(1)), storage.ErrNotFound)
		assert.ErrorIs(t, tx.TerminateAgreement(ctx, wu.AgreementID, 42), storage.ErrConflict)
		assert.ErrorIs(t, tx.ApplyBalanceDelta(ctx, client.ID, decimal.RequireFromString("999999999999.99")), storage.ErrBalanceLimit)
		require.NoError(t, tx.ApplyBalanceDelta(ctx, client.ID, decimal.NewFromInt(-10)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := store.GetAccount(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(30)))
}

func TestIntegration_Postgres_LockTimeoutIsBusy(t *testing.T) {
	store := setupPostgresContainer(t, WithLockTimeout(100*time.Millisecond))
	ctx := context.Background()
	client, _, _ := seed(t, store, "10", "1")

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.LockAccounts(ctx, client.ID); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.LockAccounts(ctx, client.ID)
		return err
	})
	close(release)
	wg.Wait()

	assert.ErrorIs(t, err, storage.ErrBusy)
}

func TestIntegration_Postgres_ConnectionWaitIsBounded(t *testing.T) {
	store := connect(t, startPostgres(t)+"&pool_max_conns=1")
	client, _, _ := seed(t, store, "10", "1")

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		t.Error("fn must not run without a connection")
		return nil
	})
	close(release)
	assert.ErrorIs(t, err, storage.ErrBusy)
	require.NoError(t, <-done)

	// Once begun, the transaction outlives a canceled caller
	ctx, cancel = context.WithCancel(context.Background())
	err = store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cancel()
		return tx.ApplyBalanceDelta(ctx, client.ID, decimal.NewFromInt(-4))
	})
	require.NoError(t, err)

	got, err := store.GetAccount(context.Background(), client.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(6)), "balance %s", got.Balance)
}
