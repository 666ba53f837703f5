package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, first_name, last_name, profession, kind, balance::text, created_at`

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := storage.ValidateAccount(account); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt == 0 {
		account.CreatedAt = time.Now().Unix()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, first_name, last_name, profession, kind, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)`,
		account.ID, account.FirstName, account.LastName, account.Profession,
		string(account.Kind), account.Balance.String(), account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", mapError(err))
	}
	return account, nil
}

// LockAccounts takes FOR UPDATE row locks in ascending ID order.
func (t *pgTx) LockAccounts(ctx context.Context, accountIDs ...string) (map[string]*models.Account, error) {
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	rows, err := t.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", mapError(err))
	}
	defer rows.Close()

	accounts := make(map[string]*models.Account, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts[account.ID] = account
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", mapError(err))
	}

	for _, id := range ids {
		if _, ok := accounts[id]; !ok {
			return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
	}
	return accounts, nil
}

func (t *pgTx) ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	if err := storage.ValidateAmount("delta", delta.Abs(), true); err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::numeric
		 WHERE id = $1 AND balance + $2::numeric >= 0 AND balance + $2::numeric < $3::numeric`,
		accountID, delta.String(), storage.MaxAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists int
	err = t.tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id = $1`, accountID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check account existence: %w", mapError(err))
	}
	if delta.IsPositive() {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrBalanceLimit)
	}
	return fmt.Errorf("account %s: %w", accountID, storage.ErrNegativeBalance)
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	account := &models.Account{}
	var kind, balance string
	if err := row.Scan(&account.ID, &account.FirstName, &account.LastName, &account.Profession,
		&kind, &balance, &account.CreatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	account.Kind = models.AccountKind(kind)
	account.Balance = amount
	return account, nil
}
