package domain

import "math"

// Bounds on money and quantities. Within them a line total in cents stays far
// below the int64 range.
const (
	MaxAmount   = 1_000_000.0
	MaxQuantity = 10_000
)

// ValidAmount reports whether amount is a finite value within ±MaxAmount.
// NaN fails the comparison.
func ValidAmount(amount float64) bool {
	return math.Abs(amount) <= MaxAmount
}

// Cents converts an amount to integer cents, rounding half away from zero.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Amount converts integer cents back to a currency amount.
func Amount(cents int64) float64 {
	return float64(cents) / 100
}

// RoundMoney rounds amount to whole cents.
func RoundMoney(amount float64) float64 {
	return Amount(Cents(amount))
}
