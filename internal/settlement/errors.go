package settlement

import "errors"

// Business outcomes. They are deterministic: retrying yields the same result.
var (
	// ErrNotFound is returned when the work unit does not exist.
	ErrNotFound = errors.New("work unit not found")

	// ErrForbidden is returned when the requester is not the agreement's paying account.
	ErrForbidden = errors.New("only the paying account may settle this work unit")

	// ErrAlreadyPaid is returned when the work unit was settled before.
	ErrAlreadyPaid = errors.New("work unit already paid")

	// ErrInsufficientFunds is returned when the paying balance is below the price.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Transient and fault outcomes.
var (
	// ErrBusy is returned when the records could not be locked within the
	// configured wait. Nothing was changed and the caller may retry.
	ErrBusy = errors.New("settlement busy, try again")

	// ErrSettlementFailed is returned when storage failed after the
	// transaction opened. Every mutation was rolled back.
	ErrSettlementFailed = errors.New("settlement failed")
)

// Outcome labels, used for metrics, logs and span attributes.
const (
	OutcomeOK                = "ok"
	OutcomeNotFound          = "not_found"
	OutcomeForbidden         = "forbidden"
	OutcomeAlreadyPaid       = "already_paid"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeBusy              = "busy"
	OutcomeFailed            = "failed"
)

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Outcome maps an error returned by Settle to its label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, ErrAlreadyPaid):
		return OutcomeAlreadyPaid
	case errors.Is(err, ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, ErrBusy):
		return OutcomeBusy
	default:
		return OutcomeFailed
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrInsufficientFunds)
}
