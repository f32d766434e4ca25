// internal/curve/params.go
package curve

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/curve-engine/internal/fixedpoint"
)

var (
	// ErrInvalidParams is returned when curve parameters fail validation.
	ErrInvalidParams = errors.New("curve: invalid parameters")
	// ErrInsufficientSupply is returned when a sale exceeds the supply the
	// curve has actually sold.
	ErrInsufficientSupply = errors.New("curve: insufficient sold supply")
)

// Params defines an immutable market curve. Prices are wei per whole token,
// supplies are 18-decimal scaled token amounts.
type Params struct {
	BasePrice   *big.Int // marginal price at zero sold supply
	Slope       *big.Int // price increase per whole token sold, zero allowed
	SupplyCap   *big.Int // maximum supply sellable through the curve
	TotalSupply *big.Int // full supply minted into market custody at creation
}

// Validate checks parameter sanity and proves the curve cannot overflow for
// any supply up to twice the cap.
func (p Params) Validate() error {
	if p.BasePrice == nil || p.BasePrice.Sign() <= 0 {
		return fmt.Errorf("%w: base price must be positive", ErrInvalidParams)
	}
	if p.Slope == nil || p.Slope.Sign() < 0 {
		return fmt.Errorf("%w: slope must be zero or positive", ErrInvalidParams)
	}
	if p.SupplyCap == nil || p.SupplyCap.Sign() <= 0 {
		return fmt.Errorf("%w: supply cap must be positive", ErrInvalidParams)
	}
	if p.TotalSupply == nil || p.TotalSupply.Cmp(p.SupplyCap) < 0 {
		return fmt.Errorf("%w: total supply must cover the supply cap", ErrInvalidParams)
	}

	// Probe the safety margin so trades near the cap can never hit the
	// overflow guard at runtime.
	margin := new(big.Int).Lsh(p.SupplyCap, 1)
	if _, err := priceAt(p, margin); err != nil {
		return fmt.Errorf("%w: price overflows within safety margin: %v", ErrInvalidParams, err)
	}
	if _, err := integralAt(p, margin); err != nil {
		return fmt.Errorf("%w: integral overflows within safety margin: %v", ErrInvalidParams, err)
	}
	return nil
}

func priceAt(p Params, supply *big.Int) (*big.Int, error) {
	inc, err := fixedpoint.MulDiv(p.Slope, supply, fixedpoint.WAD, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(p.BasePrice, inc)
}

// integralAt floors the exact rational s*(2*BasePrice*WAD + Slope*s) over
// 2*WAD^2 once. Flooring a single evaluation is what lets buys and sells
// telescope: every settled range is a difference of canonical values.
func integralAt(p Params, supply *big.Int) (*big.Int, error) {
	inner, err := fixedpoint.Mul(p.Slope, supply)
	if err != nil {
		return nil, err
	}
	baseTerm, err := fixedpoint.Mul(p.BasePrice, twoWAD)
	if err != nil {
		return nil, err
	}
	inner, err = fixedpoint.Add(inner, baseTerm)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(supply, inner, twoWADSquared, fixedpoint.RoundDown)
}
