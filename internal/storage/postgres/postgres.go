// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface using pgx.
//
// Unlike the SQLite store, exclusion is per row: LockAccounts and
// LockWorkUnit take SELECT ... FOR UPDATE locks, bounded by lock_timeout.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmynk/jobsettle/internal/storage"
)

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
	_ storage.Tx     = (*pgTx)(nil)
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 2 * time.Second

// Postgres error codes we translate.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeCheckViolation       = "23514"
)

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets the per-transaction lock_timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New connects to databaseURL, verifies the connection and runs migrations.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithinTx runs fn inside a READ COMMITTED transaction with lock_timeout
// set. ctx bounds the wait for a pooled connection; once the transaction has
// begun it ignores ctx cancellation and runs to commit or rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: waiting for a connection: %v", storage.ErrBusy, err)
		}
		return fmt.Errorf("failed to acquire connection: %w", mapError(err))
	}
	defer conn.Release()

	ctx = context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
		}
	}()

	// SET LOCAL does not accept bind parameters
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", mapError(err))
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}

	return nil
}

// pgTx implements storage.Tx on top of an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// mapError translates lock contention into storage.ErrBusy.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %v", storage.ErrBusy, err)
		case codeCheckViolation:
			return fmt.Errorf("%w: %v", storage.ErrNegativeBalance, err)
		}
	}
	return err
}
