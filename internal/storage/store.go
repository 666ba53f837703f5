// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by a conditional update when the row version
	// changed since it was read.
	ErrConflict = errors.New("version conflict")

	// ErrBusy is returned when a lock or the database could not be acquired
	// within the configured wait.
	ErrBusy = errors.New("storage busy")

	// ErrNegativeBalance is returned when a delta would take a balance below zero.
	ErrNegativeBalance = errors.New("balance would become negative")

	// ErrBalanceLimit is returned when a delta would take a balance to
	// MaxAmount or beyond.
	ErrBalanceLimit = errors.New("balance would exceed limit")
)

// Store defines the storage operations the settlement engine and the
// surrounding request layer consume.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the service layer.
type Store interface {
	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// GetWorkUnit retrieves a work unit with its agreement eagerly resolved.
	// The read takes no locks.
	GetWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error)

	// WithinTx runs fn inside a single database transaction.
	// The transaction commits if fn returns nil and rolls back otherwise;
	// a failed commit is returned as an error and leaves no changes behind.
	// ctx bounds the wait for a connection (ErrBusy when it ends first).
	// Once begun, the transaction ignores ctx cancellation, and fn receives
	// a context that keeps ctx's values but is never canceled.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Tx groups the lock-and-write primitives available inside WithinTx.
type Tx interface {
	AccountTx
	AgreementTx
	WorkUnitTx
}

// AccountTx is the account side of a transaction.
type AccountTx interface {
	// LockAccounts reads the given accounts with exclusive access for the
	// rest of the transaction. Rows are acquired in ascending ID order.
	// Returns ErrNotFound if any ID is unknown.
	LockAccounts(ctx context.Context, accountIDs ...string) (map[string]*models.Account, error)

	// ApplyBalanceDelta adds delta (which may be negative) to the account
	// balance. The caller must hold the account lock.
	// Returns ErrNotFound for an unknown ID, ErrNegativeBalance if the
	// result would drop below zero and ErrBalanceLimit if it would reach
	// MaxAmount.
	ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error
}

// AgreementTx is the agreement side of a transaction.
type AgreementTx interface {
	// TerminateAgreement sets the agreement status to terminated if its
	// version still equals version. Returns ErrConflict otherwise.
	TerminateAgreement(ctx context.Context, agreementID string, version int64) error
}

// WorkUnitTx is the work unit side of a transaction.
type WorkUnitTx interface {
	// LockWorkUnit reads a work unit and its agreement with exclusive access
	// for the rest of the transaction. Returns ErrNotFound if unknown.
	LockWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error)

	// MarkWorkUnitPaid sets paid and paid_at if the work unit version still
	// equals version and it is unpaid. Returns ErrConflict otherwise.
	MarkWorkUnitPaid(ctx context.Context, workUnitID string, version int64, paidAt time.Time) error
}

// Seeder creates the rows that the settlement engine later consumes.
// Creation happens outside the engine (admin tooling, fixtures).
type Seeder interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	CreateAgreement(ctx context.Context, agreement *models.Agreement) error
	CreateWorkUnit(ctx context.Context, workUnit *models.WorkUnit) error
}
