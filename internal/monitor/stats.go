// internal/monitor/stats.go
package monitor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/curve-engine/internal/fixedpoint"
)

// MarketStats is the rolling view of one market, accumulated from its event
// stream. Volumes are gross wei through the curve, fees included; LastPrice
// is the implied wei-per-token of the most recent trade.
type MarketStats struct {
	Market common.Address `json:"market"`
	Symbol string         `json:"symbol"`
	Name   string         `json:"name"`

	Trades uint64 `json:"trades"`
	Buys   uint64 `json:"buys"`
	Sells  uint64 `json:"sells"`

	BuyVolumeWei  *big.Int `json:"buy_volume_wei"`
	SellVolumeWei *big.Int `json:"sell_volume_wei"`
	TokensBought  *big.Int `json:"tokens_bought"`
	TokensSold    *big.Int `json:"tokens_sold"`
	FeesWei       *big.Int `json:"fees_wei"`

	LastPrice  *big.Int `json:"last_price"`
	SoldSupply *big.Int `json:"sold_supply"`
	Migrated   bool     `json:"migrated"`
	Forced     bool     `json:"forced,omitempty"`

	OpenedAt    time.Time `json:"opened_at"`
	LastTradeAt time.Time `json:"last_trade_at,omitempty"`
}

func newMarketStats(market common.Address) *MarketStats {
	return &MarketStats{
		Market:        market,
		BuyVolumeWei:  new(big.Int),
		SellVolumeWei: new(big.Int),
		TokensBought:  new(big.Int),
		TokensSold:    new(big.Int),
		FeesWei:       new(big.Int),
		LastPrice:     new(big.Int),
		SoldSupply:    new(big.Int),
	}
}

// clone deep-copies the stats so snapshots stay stable while the service
// keeps accumulating.
func (s *MarketStats) clone() MarketStats {
	out := *s
	out.BuyVolumeWei = new(big.Int).Set(s.BuyVolumeWei)
	out.SellVolumeWei = new(big.Int).Set(s.SellVolumeWei)
	out.TokensBought = new(big.Int).Set(s.TokensBought)
	out.TokensSold = new(big.Int).Set(s.TokensSold)
	out.FeesWei = new(big.Int).Set(s.FeesWei)
	out.LastPrice = new(big.Int).Set(s.LastPrice)
	out.SoldSupply = new(big.Int).Set(s.SoldSupply)
	return out
}

// impliedPrice returns weiMoved*WAD/tokensMoved floored, the effective wei
// per whole token of one trade. Zero token moves yield a zero price.
func impliedPrice(weiMoved, tokensMoved *big.Int) *big.Int {
	if weiMoved == nil || tokensMoved == nil || tokensMoved.Sign() == 0 {
		return new(big.Int)
	}
	price := new(big.Int).Mul(weiMoved, fixedpoint.WAD)
	return price.Quo(price, tokensMoved)
}
