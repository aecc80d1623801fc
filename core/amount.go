package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MonetaryPrecision is the number of decimal places amounts are compared and stored at.
const MonetaryPrecision int32 = 8

// NormalizeAmount rounds an amount to MonetaryPrecision.
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MonetaryPrecision)
}

// BidExceedsMinimum returns true if the bid is strictly greater than the minimum.
// Uses decimal arithmetic with MonetaryPrecision to avoid representation noise.
func BidExceedsMinimum(bid, minimum decimal.Decimal) bool {
	return NormalizeAmount(bid).GreaterThan(NormalizeAmount(minimum))
}

// ParseAmount parses a non-negative decimal amount such as "10" or "2.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q must not be negative", s)
	}
	return NormalizeAmount(amount), nil
}
