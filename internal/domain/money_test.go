package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLookupCurrency_Unsupported tests that unknown codes are configuration errors
func TestLookupCurrency_Unsupported(t *testing.T) {
	_, err := LookupCurrency("XYZ")

	require.Error(t, err)
	assert.True(t, IsDomainError(err, ErrorCodeUnsupportedCurrency))
	assert.True(t, IsConfigurationError(err))
}

// TestLookupCurrency_CaseInsensitive tests code normalization
func TestLookupCurrency_CaseInsensitive(t *testing.T) {
	c, err := LookupCurrency(" usd ")

	require.NoError(t, err)
	assert.Equal(t, "840", c.Numeric)
	assert.Equal(t, int32(2), c.Exponent)
}

// TestToMinorUnits_RoundTrip tests that conversion is reversible for every supported currency
func TestToMinorUnits_RoundTrip(t *testing.T) {
	amounts := []string{"0.01", "1", "25.00", "25.5", "999999.99", "1234"}

	for _, code := range SupportedCurrencies() {
		c, err := LookupCurrency(code)
		require.NoError(t, err)

		for _, raw := range amounts {
			amount := decimal.RequireFromString(raw)
			minor, err := c.ToMinorUnits(amount)
			if c.Exponent == 0 && !amount.Equal(amount.Truncate(0)) {
				assert.Error(t, err, "%s %s", code, raw)
				continue
			}
			require.NoError(t, err, "%s %s", code, raw)
			assert.True(t, c.FromMinorUnits(minor).Equal(amount), "%s %s -> %d", code, raw, minor)
		}
	}
}

// TestToMinorUnits_Scaling tests the scale applied per exponent
func TestToMinorUnits_Scaling(t *testing.T) {
	usd, _ := LookupCurrency("USD")
	jpy, _ := LookupCurrency("JPY")

	minor, err := usd.ToMinorUnits(decimal.RequireFromString("25.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), minor)

	minor, err = jpy.ToMinorUnits(decimal.RequireFromString("2500"))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), minor)
}

// TestToMinorUnits_RejectsExcessPrecision tests that sub-minor amounts are not rounded
func TestToMinorUnits_RejectsExcessPrecision(t *testing.T) {
	usd, _ := LookupCurrency("USD")

	_, err := usd.ToMinorUnits(decimal.RequireFromString("10.005"))

	assert.True(t, IsValidationError(err))
}

// TestToMinorUnits_RejectsNonPositive tests zero and negative amounts
func TestToMinorUnits_RejectsNonPositive(t *testing.T) {
	usd, _ := LookupCurrency("USD")

	_, err := usd.ToMinorUnits(decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = usd.ToMinorUnits(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// TestCurrency_Format tests decimal-string rendering
func TestCurrency_Format(t *testing.T) {
	usd, _ := LookupCurrency("USD")
	jpy, _ := LookupCurrency("JPY")

	assert.Equal(t, "25.00", usd.Format(decimal.RequireFromString("25")))
	assert.Equal(t, "2500", jpy.Format(decimal.RequireFromString("2500")))
}

// TestToMinorUnits_RejectsOverflow tests amounts whose minor units do not fit in int64
func TestToMinorUnits_RejectsOverflow(t *testing.T) {
	usd, _ := LookupCurrency("USD")

	_, err := usd.ToMinorUnits(decimal.RequireFromString("100000000000000000000"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// 92233720368547758.07 USD is exactly math.MaxInt64 cents
	minor, err := usd.ToMinorUnits(decimal.RequireFromString("92233720368547758.07"))
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), minor)

	_, err = usd.ToMinorUnits(decimal.RequireFromString("92233720368547758.08"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
