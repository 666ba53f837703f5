package models

// AgreementStatus is the lifecycle state of an agreement.
type AgreementStatus string

const (
	AgreementActive     AgreementStatus = "active"
	AgreementTerminated AgreementStatus = "terminated"
)

// Valid reports whether s is a known status.
func (s AgreementStatus) Valid() bool {
	return s == AgreementActive || s == AgreementTerminated
}

// Agreement binds a paying account to an earning account.
// Once terminated it is never reopened.
type Agreement struct {
	// ID is the unique identifier for the agreement (UUID format).
	ID string

	// Terms is free text describing the engagement.
	Terms string

	// PayingAccountID is the account that funds work units (the client).
	PayingAccountID string

	// EarningAccountID is the account credited on settlement (the contractor).
	EarningAccountID string

	Status AgreementStatus

	// Version increments on every update and guards conditional writes.
	Version int64

	// CreatedAt is the Unix timestamp when the agreement was created.
	CreatedAt int64
}
