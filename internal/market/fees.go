// internal/market/fees.go
package market

import (
	"fmt"
	"math/big"
)

// FeeConfig carries the basis-point cuts taken on every trade: the platform
// cut goes to the treasury, the creator cut to the market creator. On buys
// the cuts come off the submitted wei before curve pricing; on sells they
// come off the gross curve payout.
type FeeConfig struct {
	PlatformBps uint64 `mapstructure:"platform_bps" json:"platform_bps"`
	CreatorBps  uint64 `mapstructure:"creator_bps" json:"creator_bps"`
}

// Validate rejects fee rates that together exceed 100%.
func (f FeeConfig) Validate() error {
	if f.PlatformBps+f.CreatorBps > bpsDenominator {
		return fmt.Errorf("%w: platform %d + creator %d bps", ErrInvalidFeeRates, f.PlatformBps, f.CreatorBps)
	}
	return nil
}

// Split divides amount into the platform cut, the creator cut and the net
// remainder. Cuts round down, so the remainder absorbs all rounding and the
// three parts always sum back to amount exactly.
func (f FeeConfig) Split(amount *big.Int) (platform, creator, net *big.Int) {
	platform = cutBps(amount, f.PlatformBps)
	creator = cutBps(amount, f.CreatorBps)
	net = new(big.Int).Sub(amount, platform)
	net.Sub(net, creator)
	return platform, creator, net
}

func cutBps(amount *big.Int, bps uint64) *big.Int {
	cut := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return cut.Div(cut, big.NewInt(bpsDenominator))
}
