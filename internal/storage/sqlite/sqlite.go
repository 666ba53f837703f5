// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
//
// SQLite has no row-level locks. Every transaction is opened IMMEDIATE, which
// takes the database write lock up front, so a transaction's reads and writes
// are exclusive with respect to every other writer. Waiting for that lock is
// bounded by busy_timeout; running out of it surfaces storage.ErrBusy.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	sqlitedriver "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/mmynk/jobsettle/internal/storage"
)

// Ensure SQLiteStore implements the storage interfaces
var (
	_ storage.Store  = (*SQLiteStore)(nil)
	_ storage.Seeder = (*SQLiteStore)(nil)
	_ storage.Tx     = (*sqliteTx)(nil)
)

// DefaultBusyTimeout bounds how long a transaction waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a transaction waits for the write lock
// before failing with storage.ErrBusy.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// dsn builds a connection string whose pragmas apply to every pooled
// connection, not just the first one.
func dsn(dbPath string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn inside an IMMEDIATE transaction. ctx bounds the wait
// for a pooled connection; busy_timeout bounds the wait for the write lock.
// Once begun, the transaction ignores ctx cancellation.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: waiting for a connection: %v", storage.ErrBusy, err)
		}
		return fmt.Errorf("failed to get connection: %w", mapError(err))
	}
	defer conn.Close()

	// database/sql rolls a transaction back when its context ends
	ctx = context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
		}
	}()

	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}

	return nil
}

// sqliteTx implements storage.Tx on top of an open transaction.
type sqliteTx struct {
	q querier
}

// mapError translates SQLite lock contention into storage.ErrBusy.
func mapError(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", storage.ErrBusy, err)
	}
	return err
}

func isBusy(err error) bool {
	var se *sqlitedriver.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
		return true
	}
	return false
}
