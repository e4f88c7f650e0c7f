package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency describes how a currency is represented on provider wire formats.
type Currency struct {
	Code     string // ISO-4217 alpha code
	Numeric  string // ISO-4217 numeric code, zero padded
	Exponent int32  // number of minor-unit digits
}

// supportedCurrencies is the closed mapping table every adapter consults before
// dispatching a request.
var supportedCurrencies = map[string]Currency{
	"USD": {Code: "USD", Numeric: "840", Exponent: 2},
	"EUR": {Code: "EUR", Numeric: "978", Exponent: 2},
	"GBP": {Code: "GBP", Numeric: "826", Exponent: 2},
	"CAD": {Code: "CAD", Numeric: "124", Exponent: 2},
	"AUD": {Code: "AUD", Numeric: "036", Exponent: 2},
	"INR": {Code: "INR", Numeric: "356", Exponent: 2},
	"JPY": {Code: "JPY", Numeric: "392", Exponent: 0},
	"JMD": {Code: "JMD", Numeric: "388", Exponent: 2},
	"TTD": {Code: "TTD", Numeric: "780", Exponent: 2},
	"BBD": {Code: "BBD", Numeric: "052", Exponent: 2},
	"XCD": {Code: "XCD", Numeric: "951", Exponent: 2},
	"SGD": {Code: "SGD", Numeric: "702", Exponent: 2},
	"AED": {Code: "AED", Numeric: "784", Exponent: 2},
}

// LookupCurrency resolves an ISO-4217 alpha code. Unknown codes are a
// configuration error.
func LookupCurrency(code string) (Currency, error) {
	c, ok := supportedCurrencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, ErrUnsupportedCurrency.Withf("currency %q is not supported", code)
	}
	return c, nil
}

// LookupCurrencyByNumeric resolves an ISO-4217 numeric code as returned by
// acquirers that speak numeric currency codes.
func LookupCurrencyByNumeric(numeric string) (Currency, error) {
	for _, c := range supportedCurrencies {
		if c.Numeric == numeric {
			return c, nil
		}
	}
	return Currency{}, ErrUnsupportedCurrency.Withf("numeric currency %q is not supported", numeric)
}

// SupportedCurrencies returns the alpha codes of every supported currency.
func SupportedCurrencies() []string {
	codes := make([]string, 0, len(supportedCurrencies))
	for code := range supportedCurrencies {
		codes = append(codes, code)
	}
	return codes
}

// ToMinorUnits converts a decimal amount into integer minor units. Amounts
// with more precision than the currency allows are rejected rather than rounded.
func (c Currency) ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	shifted := amount.Shift(c.Exponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrInvalidAmount.Withf("amount %s has more than %d decimal places for %s", amount.String(), c.Exponent, c.Code)
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrInvalidAmount.Withf("amount %s is too large for %s", amount.String(), c.Code)
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits converts integer minor units back into a decimal amount.
func (c Currency) FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Exponent)
}

// Format renders amount with exactly the currency's number of decimals, the
// representation decimal-string providers expect.
func (c Currency) Format(amount decimal.Decimal) string {
	return amount.StringFixed(c.Exponent)
}

// ParseAmount parses a provider-formatted decimal string.
func (c Currency) ParseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalidProviderReply.Wrap(err)
	}
	return d, nil
}
