// internal/fixedpoint/fixedpoint.go
package fixedpoint

import (
	"errors"
	"math/big"

	ethmath "github.com/ethereum/go-ethereum/common/math"
)

// Package fixedpoint implements the unsigned 18-decimal integer arithmetic
// used by the pricing curve. Every operation is checked against the 256-bit
// domain and fails closed instead of wrapping.

// Rounding selects the direction a truncated quotient is rounded.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

var (
	// ErrOverflow is returned when a result would not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: arithmetic overflow")
	// ErrDivisionByZero is returned on a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNegative is returned when a subtraction would drop below zero.
	ErrNegative = errors.New("fixedpoint: subtraction below zero")
)

// WAD is one whole unit in 18-decimal fixed point.
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	maxUint256 = ethmath.MaxBig256
	one        = big.NewInt(1)
	two        = big.NewInt(2)
)

// Add returns x + y, checked against the 256-bit domain.
func Add(x, y *big.Int) (*big.Int, error) {
	z := new(big.Int).Add(x, y)
	if z.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y and fails if the result would be negative.
func Sub(x, y *big.Int) (*big.Int, error) {
	if x.Cmp(y) < 0 {
		return nil, ErrNegative
	}
	return new(big.Int).Sub(x, y), nil
}

// Mul returns x * y, checked against the 256-bit domain.
func Mul(x, y *big.Int) (*big.Int, error) {
	z := new(big.Int).Mul(x, y)
	if z.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div returns x / y rounded toward zero.
func Div(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return new(big.Int).Div(x, y), nil
}

// MulDiv returns x * y / denominator with the requested rounding. The
// intermediate product is evaluated at full width, so the operation only
// fails when the final quotient leaves the 256-bit domain.
func MulDiv(x, y, denominator *big.Int, rounding Rounding) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	z := new(big.Int).Mul(x, y)
	if rounding == RoundUp {
		z.Add(z, new(big.Int).Sub(denominator, one))
	}
	z.Div(z, denominator)
	if z.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sqrt returns the integer square root of n: the largest x with x*x <= n.
// Newton iteration from a seed above the root, bounded by the bit length.
func Sqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 {
		return new(big.Int)
	}
	x := new(big.Int).Lsh(one, uint(n.BitLen()+1)/2)
	for {
		y := new(big.Int).Div(n, x)
		y.Add(y, x)
		y.Div(y, two)
		if y.Cmp(x) >= 0 {
			return x
		}
		x = y
	}
}
