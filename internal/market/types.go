// internal/market/types.go
package market

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const bpsDenominator = 10_000

// SlippageBps expresses a caller's slippage tolerance in basis points and
// converts an expected output into the minimum acceptable one.
type SlippageBps uint64

// MinOut returns expected*(10000-bps)/10000, floored. A tolerance of 10000 or
// more accepts any output.
func (s SlippageBps) MinOut(expected *big.Int) *big.Int {
	if s >= bpsDenominator {
		return new(big.Int)
	}
	keep := big.NewInt(int64(bpsDenominator - s))
	out := new(big.Int).Mul(expected, keep)
	return out.Div(out, big.NewInt(bpsDenominator))
}

// TokenMeta is the immutable token description attached to a market. It is
// validated once at creation; the ledger stores it as an opaque value.
type TokenMeta struct {
	Name   string `mapstructure:"name" json:"name"`
	Symbol string `mapstructure:"symbol" json:"symbol"`
	Link   string `mapstructure:"link" json:"link,omitempty"`
}

// Validate enforces the creation-time rules for token metadata.
func (m TokenMeta) Validate() error {
	name := strings.TrimSpace(m.Name)
	if name == "" || len(name) > 64 {
		return fmt.Errorf("%w: name must be 1-64 characters", ErrInvalidMetadata)
	}
	symbol := strings.TrimSpace(m.Symbol)
	if symbol == "" || len(symbol) > 16 {
		return fmt.Errorf("%w: symbol must be 1-16 characters", ErrInvalidMetadata)
	}
	if m.Link != "" {
		parsed, err := url.Parse(m.Link)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("%w: link must be an http(s) URL", ErrInvalidMetadata)
		}
	}
	return nil
}

// TradeReceipt reports a settled trade. Amount fields are copies and safe to
// retain.
type TradeReceipt struct {
	Market      common.Address
	Actor       common.Address
	Side        Side
	GrossIn     *big.Int // wei submitted on buys, tokens submitted on sells
	NetOut      *big.Int // tokens delivered on buys, wei paid on sells
	PlatformFee *big.Int
	CreatorFee  *big.Int
	Refund      *big.Int // buys only: net wei the fill could not consume
	SoldSupply  *big.Int // cumulative sold supply after the trade
	Migrated    bool     // state after the trade
	Block       uint64
	Index       uint32 // intra-block ordering within the market
}

// Quote is a read-only preview of a trade at current state.
type Quote struct {
	Out         *big.Int // tokens for buys, wei for sells
	PlatformFee *big.Int
	CreatorFee  *big.Int
	Refund      *big.Int // buys only: net wei the fill would not consume
	Clamped     bool     // buy would stop exactly at the supply cap
}

// Snapshot is a point-in-time view of ledger state.
type Snapshot struct {
	Market       common.Address
	SoldSupply   *big.Int
	Reserve      *big.Int // wei held against the curve
	TokenBalance *big.Int // unsold tokens in custody
	Migrated     bool
	PlatformBps  uint64
	CreatorBps   uint64
	Treasury     common.Address
	Creator      common.Address
	Owner        common.Address
}
