package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

// CreateWorkUnit persists a new work unit. The agreement must exist.
func (s *SQLiteStore) CreateWorkUnit(ctx context.Context, workUnit *models.WorkUnit) error {
	if err := storage.ValidateWorkUnit(workUnit); err != nil {
		return err
	}
	if workUnit.ID == "" {
		workUnit.ID = uuid.New().String()
	}
	if workUnit.CreatedAt == 0 {
		workUnit.CreatedAt = time.Now().Unix()
	}
	if workUnit.Version == 0 {
		workUnit.Version = 1
	}

	var paidAt any
	if workUnit.PaidAt != nil {
		paidAt = workUnit.PaidAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_units (id, agreement_id, description, price_cents, paid, paid_at, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		workUnit.ID, workUnit.AgreementID, workUnit.Description, toCents(workUnit.Price),
		workUnit.Paid, paidAt, workUnit.Version, workUnit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert work unit: %w", mapError(err))
	}

	return nil
}

// GetWorkUnit retrieves a work unit with its agreement, without locking.
func (s *SQLiteStore) GetWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error) {
	return getWorkUnit(ctx, s.db, workUnitID)
}

// LockWorkUnit reads a work unit and its agreement inside the transaction.
func (t *sqliteTx) LockWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error) {
	return getWorkUnit(ctx, t.q, workUnitID)
}

// MarkWorkUnitPaid flips the paid flag if the version matches and it is unpaid.
func (t *sqliteTx) MarkWorkUnitPaid(ctx context.Context, workUnitID string, version int64, paidAt time.Time) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE work_units SET paid = 1, paid_at = ?, version = version + 1
		 WHERE id = ? AND version = ? AND paid = 0`,
		paidAt.UnixMilli(), workUnitID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to mark work unit paid: %w", mapError(err))
	}

	return checkConditionalUpdate(ctx, t.q, result, "work_units", workUnitID)
}

func getWorkUnit(ctx context.Context, q querier, workUnitID string) (*models.WorkUnit, error) {
	wu := &models.WorkUnit{}
	ag := &models.Agreement{}
	var priceCents int64
	var paidAt sql.NullInt64
	var status string

	err := q.QueryRowContext(ctx,
		`SELECT w.id, w.agreement_id, w.description, w.price_cents, w.paid, w.paid_at, w.version, w.created_at,
		        a.id, a.terms, a.paying_account_id, a.earning_account_id, a.status, a.version, a.created_at
		 FROM work_units w
		 JOIN agreements a ON a.id = w.agreement_id
		 WHERE w.id = ?`,
		workUnitID,
	).Scan(&wu.ID, &wu.AgreementID, &wu.Description, &priceCents, &wu.Paid, &paidAt, &wu.Version, &wu.CreatedAt,
		&ag.ID, &ag.Terms, &ag.PayingAccountID, &ag.EarningAccountID, &status, &ag.Version, &ag.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work unit %s: %w", workUnitID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work unit: %w", mapError(err))
	}

	wu.Price = fromCents(priceCents)
	if paidAt.Valid {
		t := time.UnixMilli(paidAt.Int64)
		wu.PaidAt = &t
	}
	ag.Status = models.AgreementStatus(status)
	wu.Agreement = ag

	return wu, nil
}

// checkConditionalUpdate distinguishes a missing row from a version conflict
// after an UPDATE ... WHERE version = ? touched nothing.
func checkConditionalUpdate(ctx context.Context, q querier, result sql.Result, table, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	// table is one of our own constants, never user input
	var exists int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s existence: %w", table, mapError(err))
	}
	return fmt.Errorf("%s %s: %w", table, id, storage.ErrConflict)
}
