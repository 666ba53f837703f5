package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkUnit is a single billable item under an agreement.
//
// Paid moves false → true at most once, and PaidAt is non-nil iff Paid.
type WorkUnit struct {
	// ID is the unique identifier for the work unit (UUID format).
	ID string

	Description string

	// AgreementID is the owning agreement.
	AgreementID string

	// Agreement is populated by eager reads; nil otherwise.
	Agreement *Agreement

	// Price is the positive amount transferred on settlement.
	Price decimal.Decimal

	Paid bool

	// PaidAt is the settlement time, with millisecond precision.
	PaidAt *time.Time

	// Version increments on every update and guards conditional writes.
	Version int64

	// CreatedAt is the Unix timestamp when the work unit was created.
	CreatedAt int64
}
