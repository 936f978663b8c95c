// Package money carries every monetary value in the system as a fixed-point
// decimal. float64 never touches a bonus amount, a purchase amount, or a
// percentage — binary floats drift, and a loyalty ledger cannot afford to.
package money

import (
	"github.com/shopspring/decimal"
)

// Zero is the additive identity, exported so callers don't keep re-deriving it.
var Zero = decimal.Zero

// Round2 rounds to two decimal places, half-away-from-zero, matching how the
// ledger's NUMERIC(14,2) columns are expected to behave.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent computes amount * pct / 100, rounded to two decimals. pct is a
// plain percentage value (5 means 5%, not 0.05).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Parse strips everything outside [0-9.-] (per the storefront payload
// contract) and parses the remainder as a decimal. An empty or unparsable
// result is reported as an error rather than silently becoming zero, so
// callers can surface a validation error instead of masking a bad payload.
func Parse(raw string) (decimal.Decimal, error) {
	sanitized := sanitizeNumeric(raw)
	if sanitized == "" {
		return decimal.Zero, errEmptyNumeric
	}
	return decimal.NewFromString(sanitized)
}

func sanitizeNumeric(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' {
			out = append(out, c)
		}
	}
	return string(out)
}

var errEmptyNumeric = decimalParseError("empty numeric string after sanitization")

type decimalParseError string

func (e decimalParseError) Error() string { return string(e) }
