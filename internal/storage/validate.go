package storage

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/models"
)

// ErrInvalid is returned by Seeder methods when a row fails validation.
var ErrInvalid = errors.New("invalid")

// MaxScale is the number of fractional digits an amount may carry.
const MaxScale = 2

// MaxAmount is the exclusive upper bound on any stored amount. It matches
// NUMERIC(14, 2) and keeps SQLite's integer cents far from int64 overflow.
var MaxAmount = decimal.New(1, 12)

// ValidateAmount checks that d fits the fixed-point scale, is below
// MaxAmount and is positive (or non-negative when allowZero is set).
func ValidateAmount(field string, d decimal.Decimal, allowZero bool) error {
	if !d.Equal(d.Round(MaxScale)) {
		return fmt.Errorf("%w: %s must have at most %d decimal places", ErrInvalid, field, MaxScale)
	}
	if d.IsNegative() || (!allowZero && d.IsZero()) {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, field)
	}
	if d.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: %s must be below %s", ErrInvalid, field, MaxAmount)
	}
	return nil
}

// ValidateAccount checks an account before it is created.
func ValidateAccount(a *models.Account) error {
	if a.FirstName == "" && a.LastName == "" {
		return fmt.Errorf("%w: account name required", ErrInvalid)
	}
	return ValidateAmount("balance", a.Balance, true)
}

// ValidateAgreement checks an agreement before it is created.
func ValidateAgreement(a *models.Agreement) error {
	if a.PayingAccountID == "" || a.EarningAccountID == "" {
		return fmt.Errorf("%w: agreement requires paying and earning accounts", ErrInvalid)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unknown agreement status %q", ErrInvalid, a.Status)
	}
	return nil
}

// ValidateWorkUnit checks a work unit before it is created.
func ValidateWorkUnit(w *models.WorkUnit) error {
	if w.AgreementID == "" {
		return fmt.Errorf("%w: work unit requires an agreement", ErrInvalid)
	}
	if w.Paid != (w.PaidAt != nil) {
		return fmt.Errorf("%w: paid_at must be set iff paid", ErrInvalid)
	}
	return ValidateAmount("price", w.Price, false)
}
