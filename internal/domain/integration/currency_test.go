package integration

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMajorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		currency string
		expected string
	}{
		{"zero-decimal JPY", 1999, "JPY", "1999"},
		{"zero-decimal KRW", 50000, "KRW", "50000"},
		{"three-decimal KWD", 1999, "KWD", "1.999"},
		{"three-decimal BHD", 1500, "BHD", "1.5"},
		{"three-decimal OMR", 1, "OMR", "0.001"},
		{"two-decimal USD", 1999, "USD", "19.99"},
		{"two-decimal EUR", 100, "EUR", "1"},
		{"two-decimal COP", 1999, "COP", "19.99"},
		{"two-decimal IDR", 1999, "IDR", "19.99"},
		{"two-decimal RSD", 1999, "RSD", "19.99"},
		{"two-decimal HUF", 1999, "HUF", "19.99"},
		{"lower-case code", 1999, "usd", "19.99"},
		{"unknown code falls back to two decimals", 1999, "ZZZ", "19.99"},
		{"empty code falls back to two decimals", 250, "", "2.5"},
		{"negative amounts keep sign", -1999, "USD", "-19.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToMajorUnits(tt.amount, tt.currency)
			want := decimal.RequireFromString(tt.expected)
			assert.True(t, want.Equal(got), "want %s, got %s", want, got)
		})
	}
}

func TestToMajorUnits_NotNaiveDivideByHundred(t *testing.T) {
	assert.False(t, ToMajorUnits(1999, "JPY").Equal(decimal.RequireFromString("19.99")))
	assert.False(t, ToMajorUnits(1999, "KWD").Equal(decimal.RequireFromString("19.99")))
}

func TestMinorUnitExponent(t *testing.T) {
	assert.Equal(t, int32(0), MinorUnitExponent("JPY"))
	assert.Equal(t, int32(3), MinorUnitExponent("KWD"))
	assert.Equal(t, int32(2), MinorUnitExponent("GBP"))
	assert.Equal(t, int32(2), MinorUnitExponent("not-a-code"))
	assert.Equal(t, int32(0), MinorUnitExponent(" jpy "))
}

func TestMinorUnitExponent_CashScaleCurrenciesUseHundredths(t *testing.T) {
	for _, code := range []string{"COP", "IDR", "RSD", "AMD", "ALL", "IRR", "LAK", "LBP", "MMK", "YER"} {
		assert.Equal(t, int32(2), MinorUnitExponent(code), code)
	}
}

func TestNormalizeCurrencyCode(t *testing.T) {
	assert.Equal(t, "USD", NormalizeCurrencyCode(" usd "))
	assert.Equal(t, "COP", NormalizeCurrencyCode("cop"))
	assert.Equal(t, "ZZZ1", NormalizeCurrencyCode("zzz1"))
	assert.Equal(t, "", NormalizeCurrencyCode(""))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99"), "USD"))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("1999"), "JPY"))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("1.999"), "KWD"))
	assert.Equal(t, int64(2000), ToMinorUnits(decimal.RequireFromString("19.995"), "USD"))
}

func TestParseMinorUnits(t *testing.T) {
	v, err := ParseMinorUnits("125.5000", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(12550), v)

	v, err = ParseMinorUnits("", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = ParseMinorUnits("1999.50", "RSD")
	require.NoError(t, err)
	assert.Equal(t, int64(199950), v)

	v, err = ParseMinorUnits("25000.75", "COP")
	require.NoError(t, err)
	assert.Equal(t, int64(2500075), v)

	_, err = ParseMinorUnits("abc", "USD")
	assert.Error(t, err)
}

func TestMinorMajorRoundTrip(t *testing.T) {
	for _, code := range []string{"USD", "JPY", "KWD", "EUR", "OMR", "KRW", "COP", "IDR", "RSD"} {
		major := ToMajorUnits(123456, code)
		assert.Equal(t, int64(123456), ToMinorUnits(major, code), code)
	}
}
