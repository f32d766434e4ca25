// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/market"
	"github.com/rovshanmuradov/curve-engine/internal/metrics"
)

var (
	// ErrMarketNotFound is returned for operations on unknown markets.
	ErrMarketNotFound = errors.New("engine: market not found")
	// ErrMarketExists is returned when creating a market at a taken address.
	ErrMarketExists = errors.New("engine: market already exists")
)

// Config carries the engine-wide defaults applied to new markets.
type Config struct {
	Owner          common.Address
	Treasury       common.Address
	Fees           market.FeeConfig
	MinPurchaseWei *big.Int
}

// CreateParams describes one market to open. A zero Market address asks the
// engine to derive one from the creator and its creation nonce.
type CreateParams struct {
	Market         common.Address
	Creator        common.Address
	Curve          curve.Params
	Meta           market.TokenMeta
	Fees           *market.FeeConfig // nil applies the engine default
	MinPurchaseWei *big.Int          // nil applies the engine default
}

// entry pairs a ledger with the custody book backing it. Each market gets
// its own book, so settlement in one market never contends with another.
type entry struct {
	ledger *market.Ledger
	book   *market.Book
}

// Engine is the registry of live markets. It routes trades, quotes, deposits
// and admin calls to the owning ledger and feeds the metrics collector; all
// per-market serialization lives in the ledgers themselves.
type Engine struct {
	mu      sync.RWMutex
	markets map[common.Address]*entry
	nonce   uint64

	cfg       Config
	clock     market.BlockClock
	emitter   market.Emitter
	collector *metrics.Collector
	logger    *zap.Logger
}

// New assembles an engine. The emitter and collector may be nil.
func New(cfg Config, clock market.BlockClock, emitter market.Emitter, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if cfg.Owner == (common.Address{}) || cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner and treasury are required", market.ErrZeroAddress)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, errors.New("engine: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		markets:   make(map[common.Address]*entry),
		cfg:       cfg,
		clock:     clock,
		emitter:   emitter,
		collector: collector,
		logger:    logger.Named("engine"),
	}, nil
}

// CreateMarket opens a market, mints its supply into a fresh custody book
// and registers it for trading.
func (e *Engine) CreateMarket(_ context.Context, p CreateParams) (*market.Ledger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	addr := p.Market
	if addr == (common.Address{}) {
		addr = crypto.CreateAddress(p.Creator, e.nonce)
		e.nonce++
	}
	if _, ok := e.markets[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, addr.Hex())
	}

	fees := e.cfg.Fees
	if p.Fees != nil {
		fees = *p.Fees
	}
	minBuy := e.cfg.MinPurchaseWei
	if p.MinPurchaseWei != nil {
		minBuy = p.MinPurchaseWei
	}

	book := market.NewBook()
	ledger, err := market.NewLedger(market.Config{
		Market:         addr,
		Creator:        p.Creator,
		Owner:          e.cfg.Owner,
		Treasury:       e.cfg.Treasury,
		Curve:          p.Curve,
		Fees:           fees,
		MinPurchaseWei: minBuy,
		Meta:           p.Meta,
	}, book, e.clock, e.emitter, e.logger)
	if err != nil {
		return nil, fmt.Errorf("create market for %s: %w", p.Creator.Hex(), err)
	}

	e.markets[addr] = &entry{ledger: ledger, book: book}
	e.logger.Info("Market registered",
		zap.String("market", addr.Hex()),
		zap.String("creator", p.Creator.Hex()),
		zap.String("symbol", p.Meta.Symbol))
	return ledger, nil
}

// Deposit credits external value into a market's custody book.
func (e *Engine) Deposit(marketAddr, actor common.Address, asset market.Asset, amount *big.Int) error {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return err
	}
	ent.book.Deposit(actor, asset, amount)
	return nil
}

// Balance reads an account balance in a market's custody book.
func (e *Engine) Balance(marketAddr, actor common.Address, asset market.Asset) (*big.Int, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return nil, err
	}
	return ent.book.Balance(actor, asset), nil
}

// Buy routes a purchase to the market's ledger.
func (e *Engine) Buy(ctx context.Context, marketAddr, buyer common.Address, ethIn, minTokensOut *big.Int) (*market.TradeReceipt, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	receipt, err := ent.ledger.Buy(ctx, buyer, ethIn, minTokensOut)
	e.observeTrade(ent, marketAddr, "buy", start, receipt, err)
	return receipt, err
}

// Sell routes a sale to the market's ledger.
func (e *Engine) Sell(ctx context.Context, marketAddr, seller common.Address, tokensIn, minETHOut *big.Int) (*market.TradeReceipt, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	receipt, err := ent.ledger.Sell(ctx, seller, tokensIn, minETHOut)
	e.observeTrade(ent, marketAddr, "sell", start, receipt, err)
	return receipt, err
}

// QuoteBuy previews a purchase against current state.
func (e *Engine) QuoteBuy(marketAddr common.Address, ethIn *big.Int) (*market.Quote, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return nil, err
	}
	return ent.ledger.QuoteBuy(ethIn)
}

// QuoteSell previews a sale against current state.
func (e *Engine) QuoteSell(marketAddr common.Address, tokensIn *big.Int) (*market.Quote, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return nil, err
	}
	return ent.ledger.QuoteSell(tokensIn)
}

// ForceMigrate fires a market's gate on the owner's behalf.
func (e *Engine) ForceMigrate(marketAddr, caller common.Address) error {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return err
	}
	if err := ent.ledger.ForceMigrate(caller); err != nil {
		return err
	}
	if e.collector != nil {
		e.collector.RecordMigration(true)
	}
	return nil
}

// SetFeeRates updates a market's fee cuts.
func (e *Engine) SetFeeRates(marketAddr, caller common.Address, platformBps, creatorBps uint64) error {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return err
	}
	return ent.ledger.SetFeeRates(caller, platformBps, creatorBps)
}

// SetTreasury redirects a market's platform fee.
func (e *Engine) SetTreasury(marketAddr, caller, treasury common.Address) error {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return err
	}
	return ent.ledger.SetTreasury(caller, treasury)
}

// Snapshot returns a market's current state.
func (e *Engine) Snapshot(marketAddr common.Address) (market.Snapshot, error) {
	ent, err := e.lookup(marketAddr)
	if err != nil {
		return market.Snapshot{}, err
	}
	return ent.ledger.Snapshot(), nil
}

// Ledger returns the ledger for direct reads.
func (e *Engine) Ledger(marketAddr common.Address) (*market.Ledger, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.markets[marketAddr]
	if !ok {
		return nil, false
	}
	return ent.ledger, true
}

// Markets lists registered market addresses in stable order.
func (e *Engine) Markets() []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]common.Address, 0, len(e.markets))
	for addr := range e.markets {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}

func (e *Engine) lookup(marketAddr common.Address) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.markets[marketAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketAddr.Hex())
	}
	return ent, nil
}

func (e *Engine) observeTrade(ent *entry, marketAddr common.Address, side string, start time.Time, receipt *market.TradeReceipt, err error) {
	if e.collector == nil {
		return
	}
	e.collector.RecordTrade(marketAddr.Hex(), side, time.Since(start), err == nil)
	if err != nil || receipt == nil {
		return
	}
	e.collector.RecordFees(marketAddr.Hex(), receipt.PlatformFee, receipt.CreatorFee)
	e.collector.SetMarketState(marketAddr.Hex(), receipt.SoldSupply, ent.book.Balance(marketAddr, market.AssetWei))
	if receipt.Migrated && side == "buy" {
		e.collector.RecordMigration(false)
	}
}
