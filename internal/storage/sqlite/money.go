package sqlite

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/storage"
)

// maxCents is storage.MaxAmount in cents.
var maxCents = toCents(storage.MaxAmount)

// toCents converts a two-digit fixed-point amount to integer cents.
// Callers validate precision and range before writing, so truncation never
// drops value.
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
