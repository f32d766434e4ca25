// internal/curve/curve.go
package curve

import (
	"math/big"

	"github.com/rovshanmuradov/curve-engine/internal/fixedpoint"
)

// Curve maps cumulative sold supply to marginal price and to the total wei
// collected for that supply. The marginal price is linear in sold supply,
//
//	price(s)    = BasePrice + Slope*s/WAD
//	integral(s) = BasePrice*s/WAD + Slope*s^2/(2*WAD^2)
//
// and IntegralAt is the single canonical floor-rounded evaluation both trade
// directions settle against, so sequences of buys and sells telescope exactly
// and the reserve can never be drained below the curve value.
type Curve struct {
	params Params
}

var (
	twoWAD        = new(big.Int).Lsh(fixedpoint.WAD, 1)
	twoWADSquared = new(big.Int).Mul(twoWAD, fixedpoint.WAD)
)

// New validates the parameters and returns a curve over them.
func New(params Params) (*Curve, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := Params{
		BasePrice:   new(big.Int).Set(params.BasePrice),
		Slope:       new(big.Int).Set(params.Slope),
		SupplyCap:   new(big.Int).Set(params.SupplyCap),
		TotalSupply: new(big.Int).Set(params.TotalSupply),
	}
	return &Curve{params: p}, nil
}

// Params returns a copy of the curve parameters.
func (c *Curve) Params() Params {
	return Params{
		BasePrice:   new(big.Int).Set(c.params.BasePrice),
		Slope:       new(big.Int).Set(c.params.Slope),
		SupplyCap:   new(big.Int).Set(c.params.SupplyCap),
		TotalSupply: new(big.Int).Set(c.params.TotalSupply),
	}
}

// SupplyCap returns the maximum supply sellable through the curve.
func (c *Curve) SupplyCap() *big.Int {
	return new(big.Int).Set(c.params.SupplyCap)
}

// PriceAt returns the marginal price in wei per whole token at the given
// sold supply.
func (c *Curve) PriceAt(supply *big.Int) (*big.Int, error) {
	return priceAt(c.params, supply)
}

// IntegralAt returns the total wei collected for selling [0, supply).
func (c *Curve) IntegralAt(supply *big.Int) (*big.Int, error) {
	return integralAt(c.params, supply)
}

// CostBetween returns IntegralAt(to) - IntegralAt(from). It is the exact wei
// amount a buy from `from` to `to` costs and a sell from `to` to `from` pays.
func (c *Curve) CostBetween(from, to *big.Int) (*big.Int, error) {
	hi, err := c.IntegralAt(to)
	if err != nil {
		return nil, err
	}
	lo, err := c.IntegralAt(from)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sub(hi, lo)
}

// TokensOutForETH solves integral(supply+tokens) - integral(supply) = ethIn
// for tokens, clamped to the remaining curve capacity. The fill is settled
// at the canonical integral: ethUsed is exactly the integral difference the
// fill covers, never more than ethIn, and the caller refunds the rest. A
// ledger that charges ethUsed therefore keeps its reserve equal to
// IntegralAt of its sold supply after every trade.
func (c *Curve) TokensOutForETH(supply, ethIn *big.Int) (tokens, ethUsed *big.Int, err error) {
	if supply.Cmp(c.params.SupplyCap) >= 0 || ethIn.Sign() <= 0 {
		return new(big.Int), new(big.Int), nil
	}
	capCost, err := c.CostBetween(supply, c.params.SupplyCap)
	if err != nil {
		return nil, nil, err
	}
	if ethIn.Cmp(capCost) >= 0 {
		return new(big.Int).Sub(c.params.SupplyCap, supply), capCost, nil
	}

	start, err := c.IntegralAt(supply)
	if err != nil {
		return nil, nil, err
	}
	// Largest reach with integral(reach) <= integral(supply) + ethIn. In
	// integers: reach*(2*BasePrice*WAD + Slope*reach) <= bound, with
	//   bound = 2*WAD^2*(integral(supply) + ethIn + 1) - 1.
	bound := new(big.Int).Add(start, ethIn)
	bound.Add(bound, big.NewInt(1))
	bound, err = fixedpoint.Mul(bound, twoWADSquared)
	if err != nil {
		return nil, nil, err
	}
	bound.Sub(bound, big.NewInt(1))

	baseWAD := new(big.Int).Mul(c.params.BasePrice, fixedpoint.WAD)
	var reach *big.Int
	if c.params.Slope.Sign() == 0 {
		reach = bound.Div(bound, new(big.Int).Lsh(baseWAD, 1))
	} else {
		// Positive root of Slope*u^2 + 2*BasePrice*WAD*u - bound = 0. The
		// intermediates run at full width; the result is below the cap.
		disc := new(big.Int).Mul(c.params.Slope, bound)
		disc.Add(disc, new(big.Int).Mul(baseWAD, baseWAD))
		reach = fixedpoint.Sqrt(disc)
		reach.Sub(reach, baseWAD)
		reach.Div(reach, c.params.Slope)
	}

	tokens = new(big.Int).Sub(reach, supply)
	if tokens.Sign() <= 0 {
		return new(big.Int), new(big.Int), nil
	}
	end, err := c.IntegralAt(reach)
	if err != nil {
		return nil, nil, err
	}
	return tokens, end.Sub(end, start), nil
}

// ETHOutForTokens returns the gross wei owed for selling tokensIn against
// the current sold supply. Fails when the sale exceeds what the curve sold.
func (c *Curve) ETHOutForTokens(supply, tokensIn *big.Int) (*big.Int, error) {
	if tokensIn.Cmp(supply) > 0 {
		return nil, ErrInsufficientSupply
	}
	after := new(big.Int).Sub(supply, tokensIn)
	return c.CostBetween(after, supply)
}
