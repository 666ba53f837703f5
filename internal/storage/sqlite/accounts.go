package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

const accountColumns = `id, first_name, last_name, profession, kind, balance_cents, created_at`

// CreateAccount inserts a new account into the database.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := storage.ValidateAccount(account); err != nil {
		return err
	}
	// Generate ID if not set
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt == 0 {
		account.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.FirstName, account.LastName, account.Profession,
		string(account.Kind), toCents(account.Balance), account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", mapError(err))
	}

	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

func getAccount(ctx context.Context, q querier, accountID string) (*models.Account, error) {
	account := &models.Account{}
	var kind string
	var cents int64

	err := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&account.ID, &account.FirstName, &account.LastName, &account.Profession,
		&kind, &cents, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", mapError(err))
	}

	account.Kind = models.AccountKind(kind)
	account.Balance = fromCents(cents)
	return account, nil
}

// LockAccounts reads the accounts in ascending ID order. The IMMEDIATE
// transaction already holds the write lock, so no other writer can touch
// these rows until commit or rollback.
func (t *sqliteTx) LockAccounts(ctx context.Context, accountIDs ...string) (map[string]*models.Account, error) {
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	accounts := make(map[string]*models.Account, len(ids))
	for _, id := range ids {
		account, err := getAccount(ctx, t.q, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

// ApplyBalanceDelta adds delta to the account balance.
func (t *sqliteTx) ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	if err := storage.ValidateAmount("delta", delta.Abs(), true); err != nil {
		return err
	}
	cents := toCents(delta)

	result, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?
		 WHERE id = ? AND balance_cents + ? >= 0 AND balance_cents + ? < ?`,
		cents, accountID, cents, cents, maxCents,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the account is missing or a guard failed
	if _, err := getAccount(ctx, t.q, accountID); err != nil {
		return err
	}
	if delta.IsPositive() {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrBalanceLimit)
	}
	return fmt.Errorf("account %s: %w", accountID, storage.ErrNegativeBalance)
}
