// internal/market/ledger.go
package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
)

// Config assembles everything a ledger needs at creation time.
type Config struct {
	Market         common.Address
	Creator        common.Address
	Owner          common.Address
	Treasury       common.Address
	Curve          curve.Params
	Fees           FeeConfig
	MinPurchaseWei *big.Int // buys below this are rejected; nil or zero disables
	Meta           TokenMeta
}

// Ledger executes buys and sells for a single market against its pricing
// curve. Every operation runs to completion under the ledger's own lock, so
// one market is strictly serialized while independent markets proceed in
// parallel. All failures leave sold supply, the gate and custody untouched.
type Ledger struct {
	mu sync.Mutex

	id       common.Address
	creator  common.Address
	owner    common.Address
	treasury common.Address
	meta     TokenMeta

	pricing *curve.Curve
	fees    FeeConfig
	minBuy  *big.Int

	custody Custody
	clock   BlockClock
	gate    *Gate
	emitter Emitter
	logger  *zap.Logger

	soldSupply *big.Int
	lastTrade  map[common.Address]uint64

	// event ordering key state
	keyBlock uint64
	keyIndex uint32
}

// NewLedger validates the configuration, mints the full token supply into
// the market's custody account and announces the market.
func NewLedger(cfg Config, custody Custody, clock BlockClock, emitter Emitter, logger *zap.Logger) (*Ledger, error) {
	if cfg.Market == (common.Address{}) || cfg.Owner == (common.Address{}) || cfg.Treasury == (common.Address{}) || cfg.Creator == (common.Address{}) {
		return nil, fmt.Errorf("%w: market, owner, treasury and creator are required", ErrZeroAddress)
	}
	pricing, err := curve.New(cfg.Curve)
	if err != nil {
		return nil, err
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, err
	}
	if custody == nil || clock == nil {
		return nil, fmt.Errorf("market %s: custody and clock are required", cfg.Market.Hex())
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	minBuy := new(big.Int)
	if cfg.MinPurchaseWei != nil {
		if cfg.MinPurchaseWei.Sign() < 0 {
			return nil, fmt.Errorf("market %s: negative minimum purchase", cfg.Market.Hex())
		}
		minBuy.Set(cfg.MinPurchaseWei)
	}

	l := &Ledger{
		id:         cfg.Market,
		creator:    cfg.Creator,
		owner:      cfg.Owner,
		treasury:   cfg.Treasury,
		meta:       cfg.Meta,
		pricing:    pricing,
		fees:       cfg.Fees,
		minBuy:     minBuy,
		custody:    custody,
		clock:      clock,
		gate:       NewGate(),
		emitter:    emitter,
		logger:     logger.Named("market").With(zap.String("market", cfg.Market.Hex())),
		soldSupply: new(big.Int),
		lastTrade:  make(map[common.Address]uint64),
	}

	// The backing supply lands in custody atomically with creation.
	total := pricing.Params().TotalSupply
	custody.Deposit(l.id, AssetToken, total)

	block, index := l.nextKey(l.currentBlock())
	l.emitter.MarketCreated(CreatedNotice{
		Market:      l.id,
		Creator:     l.creator,
		Meta:        l.meta,
		SupplyCap:   pricing.SupplyCap(),
		TotalSupply: total,
		Block:       block,
		Index:       index,
	})
	l.logger.Info("market opened",
		zap.String("symbol", l.meta.Symbol),
		zap.String("supply_cap", curve.FormatWAD(pricing.SupplyCap())),
		zap.Uint64("block", block))
	return l, nil
}

// ID returns the market address.
func (l *Ledger) ID() common.Address { return l.id }

// Meta returns the immutable token metadata.
func (l *Ledger) Meta() TokenMeta { return l.meta }

// Migrated reports whether the gate has fired.
func (l *Ledger) Migrated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gate.Migrated()
}

// SoldSupply returns a copy of the cumulative sold supply.
func (l *Ledger) SoldSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.soldSupply)
}

// Snapshot returns a consistent view of the ledger and its custody.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Market:       l.id,
		SoldSupply:   new(big.Int).Set(l.soldSupply),
		Reserve:      l.custody.Balance(l.id, AssetWei),
		TokenBalance: l.custody.Balance(l.id, AssetToken),
		Migrated:     l.gate.Migrated(),
		PlatformBps:  l.fees.PlatformBps,
		CreatorBps:   l.fees.CreatorBps,
		Treasury:     l.treasury,
		Creator:      l.creator,
		Owner:        l.owner,
	}
}

// Buy settles a purchase of curve tokens for ethIn wei. Fees come off ethIn
// first, the net feeds the curve, and the fill is charged at its exact
// integral cost: net wei the fill cannot consume, whether from a cap clamp
// or integer rounding, never leaves the buyer. Reaching the cap exactly
// migrates the market within the same operation.
func (l *Ledger) Buy(ctx context.Context, buyer common.Address, ethIn, minTokensOut *big.Int) (*TradeReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gate.Migrated() {
		return nil, ErrAlreadyMigrated
	}
	if ethIn == nil || ethIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if l.minBuy.Sign() > 0 && ethIn.Cmp(l.minBuy) < 0 {
		return nil, fmt.Errorf("%w: %s wei below %s", ErrBelowMinimumPurchase, ethIn, l.minBuy)
	}
	block := l.currentBlock()
	if last, ok := l.lastTrade[buyer]; ok && last == block {
		return nil, ErrSameBlockTrade
	}

	platformFee, creatorFee, netIn := l.fees.Split(ethIn)
	if netIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing left after fees", ErrBelowMinimumPurchase)
	}
	tokens, ethUsed, err := l.pricing.TokensOutForETH(l.soldSupply, netIn)
	if err != nil {
		return nil, fmt.Errorf("price buy of %s wei: %w", ethIn, err)
	}
	if tokens.Sign() == 0 {
		return nil, fmt.Errorf("%w: too small for one token unit", ErrBelowMinimumPurchase)
	}
	if minTokensOut != nil && tokens.Cmp(minTokensOut) < 0 {
		return nil, fmt.Errorf("%w: %s tokens under minimum %s", ErrSlippageExceeded, tokens, minTokensOut)
	}
	refund := new(big.Int).Sub(netIn, ethUsed)

	err = l.custody.Apply([]Transfer{
		{From: buyer, To: l.id, Asset: AssetWei, Amount: ethUsed},
		{From: buyer, To: l.treasury, Asset: AssetWei, Amount: platformFee},
		{From: buyer, To: l.creator, Asset: AssetWei, Amount: creatorFee},
		{From: l.id, To: buyer, Asset: AssetToken, Amount: tokens},
	})
	if err != nil {
		return nil, err
	}

	// Commit point: nothing below may fail.
	l.soldSupply.Add(l.soldSupply, tokens)
	l.lastTrade[buyer] = block

	reachedCap := l.soldSupply.Cmp(l.pricing.SupplyCap()) == 0
	if reachedCap {
		_ = l.gate.Migrate()
	}

	receipt := l.buildReceipt(buyer, SideBuy, ethIn, tokens, platformFee, creatorFee, refund, block)
	l.emitter.TradeExecuted(receipt)
	if reachedCap {
		l.emitMigration(false, block)
	}

	l.logger.Info("buy settled",
		zap.String("buyer", buyer.Hex()),
		zap.String("eth_in", curve.FormatWAD(ethIn)),
		zap.String("tokens_out", curve.FormatWAD(tokens)),
		zap.String("refund", curve.FormatWAD(refund)),
		zap.String("sold_supply", curve.FormatWAD(l.soldSupply)),
		zap.Uint64("block", block),
		zap.Bool("migrated", reachedCap))
	return receipt, nil
}

// Sell settles a sale of tokens back to the curve. The gross wei payout is
// the exact integral the buys paid over that range; fees come off the gross
// before the seller is paid.
func (l *Ledger) Sell(ctx context.Context, seller common.Address, tokensIn, minETHOut *big.Int) (*TradeReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gate.Migrated() {
		return nil, ErrAlreadyMigrated
	}
	if tokensIn == nil || tokensIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	block := l.currentBlock()
	if last, ok := l.lastTrade[seller]; ok && last == block {
		return nil, ErrSameBlockTrade
	}

	gross, err := l.pricing.ETHOutForTokens(l.soldSupply, tokensIn)
	if err != nil {
		return nil, err
	}
	platformFee, creatorFee, netOut := l.fees.Split(gross)
	if minETHOut != nil && netOut.Cmp(minETHOut) < 0 {
		return nil, fmt.Errorf("%w: %s wei under minimum %s", ErrSlippageExceeded, netOut, minETHOut)
	}

	err = l.custody.Apply([]Transfer{
		{From: seller, To: l.id, Asset: AssetToken, Amount: tokensIn},
		{From: l.id, To: seller, Asset: AssetWei, Amount: netOut},
		{From: l.id, To: l.treasury, Asset: AssetWei, Amount: platformFee},
		{From: l.id, To: l.creator, Asset: AssetWei, Amount: creatorFee},
	})
	if err != nil {
		return nil, err
	}

	// Commit point: nothing below may fail.
	l.soldSupply.Sub(l.soldSupply, tokensIn)
	l.lastTrade[seller] = block

	receipt := l.buildReceipt(seller, SideSell, tokensIn, netOut, platformFee, creatorFee, new(big.Int), block)
	l.emitter.TradeExecuted(receipt)

	l.logger.Info("sell settled",
		zap.String("seller", seller.Hex()),
		zap.String("tokens_in", curve.FormatWAD(tokensIn)),
		zap.String("eth_out", curve.FormatWAD(netOut)),
		zap.String("sold_supply", curve.FormatWAD(l.soldSupply)),
		zap.Uint64("block", block))
	return receipt, nil
}

// QuoteBuy previews a buy at current state without trading restrictions.
func (l *Ledger) QuoteBuy(ethIn *big.Int) (*Quote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gate.Migrated() {
		return nil, ErrAlreadyMigrated
	}
	if ethIn == nil || ethIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	platformFee, creatorFee, netIn := l.fees.Split(ethIn)
	tokens, ethUsed, err := l.pricing.TokensOutForETH(l.soldSupply, netIn)
	if err != nil {
		return nil, err
	}
	refund := new(big.Int).Sub(netIn, ethUsed)
	reached := new(big.Int).Add(l.soldSupply, tokens)
	return &Quote{
		Out:         tokens,
		PlatformFee: platformFee,
		CreatorFee:  creatorFee,
		Refund:      refund,
		Clamped:     reached.Cmp(l.pricing.SupplyCap()) == 0,
	}, nil
}

// QuoteSell previews a sell at current state without trading restrictions.
func (l *Ledger) QuoteSell(tokensIn *big.Int) (*Quote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gate.Migrated() {
		return nil, ErrAlreadyMigrated
	}
	if tokensIn == nil || tokensIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	gross, err := l.pricing.ETHOutForTokens(l.soldSupply, tokensIn)
	if err != nil {
		return nil, err
	}
	platformFee, creatorFee, netOut := l.fees.Split(gross)
	return &Quote{
		Out:         netOut,
		PlatformFee: platformFee,
		CreatorFee:  creatorFee,
		Refund:      new(big.Int),
	}, nil
}

// ForceMigrate is the owner's escape hatch for a stuck market. It fails once
// the gate has fired, by either path.
func (l *Ledger) ForceMigrate(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	if err := l.gate.Migrate(); err != nil {
		return err
	}
	block := l.currentBlock()
	l.emitMigration(true, block)
	l.logger.Warn("market force-migrated",
		zap.String("sold_supply", curve.FormatWAD(l.soldSupply)),
		zap.Uint64("block", block))
	return nil
}

// SetFeeRates updates the trade fee cuts. Re-applying the current values is
// a no-op.
func (l *Ledger) SetFeeRates(caller common.Address, platformBps, creatorBps uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	next := FeeConfig{PlatformBps: platformBps, CreatorBps: creatorBps}
	if next == l.fees {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	l.logger.Info("fee rates updated",
		zap.Uint64("platform_bps", platformBps),
		zap.Uint64("creator_bps", creatorBps))
	l.fees = next
	return nil
}

// SetTreasury redirects the platform fee. Re-applying the current address is
// a no-op.
func (l *Ledger) SetTreasury(caller, treasury common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	if treasury == l.treasury {
		return nil
	}
	if treasury == (common.Address{}) {
		return ErrZeroAddress
	}
	l.logger.Info("treasury updated", zap.String("treasury", treasury.Hex()))
	l.treasury = treasury
	return nil
}

func (l *Ledger) buildReceipt(actor common.Address, side Side, grossIn, netOut, platformFee, creatorFee, refund *big.Int, block uint64) *TradeReceipt {
	b, i := l.nextKey(block)
	return &TradeReceipt{
		Market:      l.id,
		Actor:       actor,
		Side:        side,
		GrossIn:     new(big.Int).Set(grossIn),
		NetOut:      new(big.Int).Set(netOut),
		PlatformFee: new(big.Int).Set(platformFee),
		CreatorFee:  new(big.Int).Set(creatorFee),
		Refund:      new(big.Int).Set(refund),
		SoldSupply:  new(big.Int).Set(l.soldSupply),
		Migrated:    l.gate.Migrated(),
		Block:       b,
		Index:       i,
	}
}

func (l *Ledger) emitMigration(forced bool, block uint64) {
	b, i := l.nextKey(block)
	l.emitter.MarketMigrated(MigrationNotice{
		Market:     l.id,
		SoldSupply: new(big.Int).Set(l.soldSupply),
		Reserve:    l.custody.Balance(l.id, AssetWei),
		Forced:     forced,
		Block:      b,
		Index:      i,
	})
}

// currentBlock reads the clock and clamps it so the ordering key never moves
// backwards even if the clock does.
func (l *Ledger) currentBlock() uint64 {
	block := l.clock.Current()
	if block < l.keyBlock {
		return l.keyBlock
	}
	return block
}

func (l *Ledger) nextKey(block uint64) (uint64, uint32) {
	if block != l.keyBlock {
		l.keyBlock = block
		l.keyIndex = 0
	}
	index := l.keyIndex
	l.keyIndex++
	return block, index
}
