package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

const workUnitQuery = `
SELECT w.id, w.agreement_id, w.description, w.price::text, w.paid, w.paid_at, w.version, w.created_at,
       a.id, a.terms, a.paying_account_id, a.earning_account_id, a.status, a.version, a.created_at
FROM work_units w
JOIN agreements a ON a.id = w.agreement_id
WHERE w.id = $1`

func (s *Store) CreateAgreement(ctx context.Context, agreement *models.Agreement) error {
	if agreement.Status == "" {
		agreement.Status = models.AgreementActive
	}
	if err := storage.ValidateAgreement(agreement); err != nil {
		return err
	}
	if agreement.ID == "" {
		agreement.ID = uuid.New().String()
	}
	if agreement.CreatedAt == 0 {
		agreement.CreatedAt = time.Now().Unix()
	}
	if agreement.Version == 0 {
		agreement.Version = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agreements (id, terms, paying_account_id, earning_account_id, status, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		agreement.ID, agreement.Terms, agreement.PayingAccountID, agreement.EarningAccountID,
		string(agreement.Status), agreement.Version, agreement.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agreement: %w", mapError(err))
	}
	return nil
}

func (s *Store) CreateWorkUnit(ctx context.Context, workUnit *models.WorkUnit) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO work_units (id, agreement_id, description, price, paid, paid_at, version, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		workUnit.ID, workUnit.AgreementID, workUnit.Description, workUnit.Price.String(),
		workUnit.Paid, workUnit.PaidAt, workUnit.Version, workUnit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert work unit: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error) {
	return getWorkUnit(ctx, s.pool, workUnitQuery, workUnitID)
}

// LockWorkUnit locks the work unit row and its agreement row.
func (t *pgTx) LockWorkUnit(ctx context.Context, workUnitID string) (*models.WorkUnit, error) {
	return getWorkUnit(ctx, t.tx, workUnitQuery+" FOR UPDATE", workUnitID)
}

func (t *pgTx) TerminateAgreement(ctx context.Context, agreementID string, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE agreements SET status = $3, version = version + 1 WHERE id = $1 AND version = $2`,
		agreementID, version, string(models.AgreementTerminated),
	)
	if err != nil {
		return fmt.Errorf("failed to terminate agreement: %w", mapError(err))
	}
	return checkConditionalUpdate(ctx, t.tx, tag, "agreements", agreementID)
}

func (t *pgTx) MarkWorkUnitPaid(ctx context.Context, workUnitID string, version int64, paidAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE work_units SET paid = TRUE, paid_at = $3, version = version + 1
		 WHERE id = $1 AND version = $2 AND NOT paid`,
		workUnitID, version, paidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark work unit paid: %w", mapError(err))
	}
	return checkConditionalUpdate(ctx, t.tx, tag, "work_units", workUnitID)
}

func getWorkUnit(ctx context.Context, q querier, query, workUnitID string) (*models.WorkUnit, error) {
	wu := &models.WorkUnit{}
	ag := &models.Agreement{}
	var price, status string
	var paidAt pgtype.Timestamptz

	err := q.QueryRow(ctx, query, workUnitID).Scan(
		&wu.ID, &wu.AgreementID, &wu.Description, &price, &wu.Paid, &paidAt, &wu.Version, &wu.CreatedAt,
		&ag.ID, &ag.Terms, &ag.PayingAccountID, &ag.EarningAccountID, &status, &ag.Version, &ag.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("work unit %s: %w", workUnitID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work unit: %w", mapError(err))
	}

	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	wu.Price = amount
	if paidAt.Valid {
		t := paidAt.Time
		wu.PaidAt = &t
	}
	ag.Status = models.AgreementStatus(status)
	wu.Agreement = ag
	return wu, nil
}

func checkConditionalUpdate(ctx context.Context, q querier, tag pgconn.CommandTag, table, id string) error {
	if tag.RowsAffected() == 1 {
		return nil
	}

	// table is one of our own constants, never user input
	var exists int
	err := q.QueryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = $1", id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s existence: %w", table, mapError(err))
	}
	return fmt.Errorf("%s %s: %w", table, id, storage.ErrConflict)
}
