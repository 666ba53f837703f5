package models

import "github.com/shopspring/decimal"

// AccountKind is descriptive only; settlement never branches on it.
type AccountKind string

const (
	AccountKindClient     AccountKind = "client"
	AccountKindContractor AccountKind = "contractor"
)

// Account represents a party that holds funds.
type Account struct {
	// ID is the unique identifier for the account (UUID format).
	ID string

	FirstName string
	LastName  string

	// Profession is descriptive (e.g., "Programmer", "Wizard").
	Profession string

	Kind AccountKind

	// Balance is the available amount. It is never negative.
	Balance decimal.Decimal

	// CreatedAt is the Unix timestamp when the account was created.
	CreatedAt int64
}

// DisplayName returns "First Last", falling back to the ID.
func (a *Account) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.LastName != "":
		return a.LastName
	default:
		return a.ID
	}
}
