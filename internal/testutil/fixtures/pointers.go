// Package fixtures provides test data builders and helpers.
package fixtures

import (
	"github.com/shopspring/decimal"
)

// DecimalPtr parses s and returns a pointer to it. It panics on bad input,
// which is what a test fixture should do.
func DecimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
