// internal/market/emitter.go
package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CreatedNotice announces a newly opened market.
type CreatedNotice struct {
	Market      common.Address
	Creator     common.Address
	Meta        TokenMeta
	SupplyCap   *big.Int
	TotalSupply *big.Int
	Block       uint64
	Index       uint32
}

// MigrationNotice announces the one-way gate transition.
type MigrationNotice struct {
	Market     common.Address
	SoldSupply *big.Int
	Reserve    *big.Int // wei available to seed the external venue
	Forced     bool     // true when triggered by the owner, not the cap
	Block      uint64
	Index      uint32
}

// Emitter receives settled market activity. The ledger calls it inside its
// lock after the commit point, so implementations must not block and must
// not call back into the ledger.
type Emitter interface {
	MarketCreated(CreatedNotice)
	TradeExecuted(*TradeReceipt)
	MarketMigrated(MigrationNotice)
}

// NopEmitter drops everything. Used when no downstream consumer is wired.
type NopEmitter struct{}

func (NopEmitter) MarketCreated(CreatedNotice) {}

func (NopEmitter) TradeExecuted(*TradeReceipt) {}

func (NopEmitter) MarketMigrated(MigrationNotice) {}
