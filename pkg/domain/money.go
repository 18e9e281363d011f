package domain

import "fmt"

// Cents is fixed-point money in integer minor units (1 Cents = $0.01).
// Balances and costs are always whole cent amounts; arithmetic on Cents is
// exact, so billing reconciliation never sees rounding drift.
type Cents int64

// String renders the amount as dollars, e.g. Cents(5).String() == "$0.05".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// IsPositive reports whether the amount is strictly greater than zero.
// Top-ups and reservations require positive amounts.
func (c Cents) IsPositive() bool { return c > 0 }
