package math

import (
	"fmt"

	"github.com/shopspring/decimal"

	"PerpRisk/internal/riskerr"
)

const fpExp int32 = -6

// FormatFP renders an FP value as a decimal string ("93.75").
func FormatFP(fp int64) string {
	return decimal.New(fp, fpExp).String()
}

// FPToDecimal converts an FP value to an exact decimal.
func FPToDecimal(fp int64) decimal.Decimal {
	return decimal.New(fp, fpExp)
}

// ParseFP parses a decimal string into FP. More than six fractional
// digits is rejected rather than silently truncated.
func ParseFP(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, riskerr.InvalidFixedPoint)
	}
	return DecimalToFP(d)
}

// DecimalToFP converts an exact decimal to FP.
func DecimalToFP(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(-fpExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%s has more than 6 decimals: %w", d.String(), riskerr.InvalidFixedPoint)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%s out of range: %w", d.String(), riskerr.MathOverflow)
	}
	return scaled.IntPart(), nil
}
