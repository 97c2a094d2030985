package integration

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// defaultMinorUnitExponent applies to any currency the tables below do not know
const defaultMinorUnitExponent = 2

// zeroDecimalCurrencies report amounts in whole units
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// threeDecimalCurrencies report amounts in thousandths
var threeDecimalCurrencies = map[string]struct{}{
	"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
}

// NormalizeCurrencyCode returns the canonical ISO 4217 code.
// Codes x/text does not recognise are kept, trimmed and upper-cased.
func NormalizeCurrencyCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if unit, err := currency.ParseISO(code); err == nil {
		return unit.String()
	}
	return code
}

// MinorUnitExponent returns how many decimal places the currency's minor unit has.
// Only the explicit tables deviate from two decimals. CLDR cash scales are not used:
// providers report COP, IDR, RSD and similar in hundredths.
func MinorUnitExponent(code string) int32 {
	code = NormalizeCurrencyCode(code)
	if _, ok := zeroDecimalCurrencies[code]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[code]; ok {
		return 3
	}
	return defaultMinorUnitExponent
}

// ToMajorUnits converts a minor-unit amount into a decimal major-unit amount.
// 1999 JPY is 1999, 1999 KWD is 1.999, 1999 USD is 19.99.
func ToMajorUnits(amount int64, currencyCode string) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent(currencyCode))
}

// ToMinorUnits converts a major-unit decimal into the currency's minor unit, rounding half away from zero.
// Adapters whose APIs report decimal strings use it to produce RawOrder amounts.
func ToMinorUnits(amount decimal.Decimal, currencyCode string) int64 {
	exp := MinorUnitExponent(currencyCode)
	return amount.Shift(exp).Round(0).IntPart()
}

// ParseMinorUnits parses a decimal string such as "19.99" into minor units
func ParseMinorUnits(s, currencyCode string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return ToMinorUnits(d, currencyCode), nil
}
