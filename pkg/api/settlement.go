// Package api holds the wire messages of the jobsettle.v1 Connect services.
package api

// SettleRequest asks to pay for a single work unit. The requesting account
// is taken from the caller's identity, never from the message.
type SettleRequest struct {
	WorkUnitID string `json:"work_unit_id"`
}

// SettleResponse carries the receipt of a committed settlement.
type SettleResponse struct {
	Receipt *Receipt `json:"receipt"`
}

// Receipt describes a committed settlement.
type Receipt struct {
	WorkUnitID       string `json:"work_unit_id"`
	AgreementID      string `json:"agreement_id"`
	PayingAccountID  string `json:"paying_account_id"`
	EarningAccountID string `json:"earning_account_id"`
	// Amount is a decimal string with two fractional digits, e.g. "40.00".
	Amount          string `json:"amount"`
	AgreementStatus string `json:"agreement_status"`
	// PaidAt is milliseconds since the Unix epoch.
	PaidAt int64 `json:"paid_at"`
}
