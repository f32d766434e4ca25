// internal/curve/display.go
package curve

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatWAD renders an 18-decimal fixed-point value as a plain decimal
// string, for logs and CLI output only. Settlement math never leaves big.Int.
func FormatWAD(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).String()
}

// ParseWAD parses a decimal string ("0.00001") into an 18-decimal scaled
// integer. Fractions finer than 18 decimals and negative values are rejected.
func ParseWAD(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse fixed-point value %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("fixed-point value %q must not be negative", s)
	}
	scaled := d.Shift(18)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("fixed-point value %q has more than 18 decimals", s)
	}
	return scaled.BigInt(), nil
}
