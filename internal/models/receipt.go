package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt confirms a successful settlement.
type Receipt struct {
	WorkUnitID       string
	AgreementID      string
	PayingAccountID  string
	EarningAccountID string

	// Amount is the work unit price that moved between the accounts.
	Amount decimal.Decimal

	// AgreementStatus is the agreement status after settlement (always terminated).
	AgreementStatus AgreementStatus

	PaidAt time.Time
}
