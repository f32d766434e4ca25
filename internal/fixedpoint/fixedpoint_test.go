// internal/fixedpoint/fixedpoint_test.go
package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

// pow10 returns 10^exp as a big integer.
func pow10(exp int64) *big.Int {
	return new(big.Int).Exp(bi(10), bi(exp), nil)
}

func TestWAD(t *testing.T) {
	assert.Equal(t, pow10(18), WAD)
}

func TestAdd(t *testing.T) {
	z, err := Add(bi(2), bi(3))
	require.NoError(t, err)
	assert.Equal(t, bi(5), z)

	_, err = Add(maxUint256, bi(1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSub(t *testing.T) {
	z, err := Sub(bi(5), bi(3))
	require.NoError(t, err)
	assert.Equal(t, bi(2), z)

	_, err = Sub(bi(3), bi(5))
	assert.ErrorIs(t, err, ErrNegative)
}

func TestMul(t *testing.T) {
	z, err := Mul(bi(7), bi(6))
	require.NoError(t, err)
	assert.Equal(t, bi(42), z)

	_, err = Mul(maxUint256, bi(2))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	z, err := Div(bi(7), bi(2))
	require.NoError(t, err)
	assert.Equal(t, bi(3), z)

	_, err = Div(bi(7), bi(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name     string
		x, y, d  *big.Int
		rounding Rounding
		want     *big.Int
	}{
		{"exact", bi(10), bi(10), bi(4), RoundDown, bi(25)},
		{"down", bi(10), bi(10), bi(3), RoundDown, bi(33)},
		{"up", bi(10), bi(10), bi(3), RoundUp, bi(34)},
		{"up exact stays exact", bi(10), bi(10), bi(4), RoundUp, bi(25)},
		{"wad scaling", pow10(18), bi(5), WAD, RoundDown, bi(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.x, tt.y, tt.d, tt.rounding)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMulDiv_Errors(t *testing.T) {
	_, err := MulDiv(bi(1), bi(1), bi(0), RoundDown)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MulDiv(maxUint256, bi(2), bi(1), RoundDown)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// The product overflows 256 bits but the quotient does not.
	z, err := MulDiv(maxUint256, maxUint256, maxUint256, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, maxUint256, z)
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in   *big.Int
		want *big.Int
	}{
		{bi(0), bi(0)},
		{bi(1), bi(1)},
		{bi(2), bi(1)},
		{bi(3), bi(1)},
		{bi(4), bi(2)},
		{bi(15), bi(3)},
		{bi(16), bi(4)},
		{bi(1 << 40), bi(1 << 20)},
		{pow10(36), pow10(18)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sqrt(tt.in), "sqrt(%s)", tt.in)
	}
}

func TestSqrt_FloorProperty(t *testing.T) {
	// For a value that is not a perfect square the result must satisfy
	// x*x <= n < (x+1)*(x+1).
	n := new(big.Int).Sub(pow10(40), bi(12345))
	x := Sqrt(n)

	lo := new(big.Int).Mul(x, x)
	xp := new(big.Int).Add(x, bi(1))
	hi := new(big.Int).Mul(xp, xp)

	require.True(t, lo.Cmp(n) <= 0, "x^2 must not exceed n")
	require.True(t, hi.Cmp(n) > 0, "(x+1)^2 must exceed n")
}

func TestSqrt_Monotonic(t *testing.T) {
	prev := Sqrt(bi(0))
	for i := int64(1); i <= 1000; i++ {
		cur := Sqrt(bi(i))
		require.True(t, cur.Cmp(prev) >= 0, "sqrt must be non-decreasing at %d", i)
		prev = cur
	}
}
