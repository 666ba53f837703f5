package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

// CreateAgreement persists a new agreement. Both accounts must exist.
func (s *SQLiteStore) CreateAgreement(ctx context.Context, agreement *models.Agreement) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agreements (id, terms, paying_account_id, earning_account_id, status, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agreement.ID, agreement.Terms, agreement.PayingAccountID, agreement.EarningAccountID,
		string(agreement.Status), agreement.Version, agreement.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agreement: %w", mapError(err))
	}

	return nil
}

// TerminateAgreement sets status to terminated if the version still matches.
// Terminating an already terminated agreement only bumps its version.
func (t *sqliteTx) TerminateAgreement(ctx context.Context, agreementID string, version int64) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE agreements SET status = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(models.AgreementTerminated), agreementID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to terminate agreement: %w", mapError(err))
	}

	return checkConditionalUpdate(ctx, t.q, result, "agreements", agreementID)
}
