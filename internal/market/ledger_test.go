// internal/market/ledger_test.go
package market

import (
	"context"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
)

var (
	addrMarket   = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	addrOwner    = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	addrTreasury = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	addrCreator  = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	addrAlice    = common.HexToAddress("0x0000000000000000000000000000000000000AaA")
	addrBob      = common.HexToAddress("0x0000000000000000000000000000000000000BbB")
	addrCarol    = common.HexToAddress("0x0000000000000000000000000000000000000CcC")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func weiETH(n int64) *big.Int { return wad(n) }

func testLedgerConfig() Config {
	return Config{
		Market:   addrMarket,
		Creator:  addrCreator,
		Owner:    addrOwner,
		Treasury: addrTreasury,
		Curve: curve.Params{
			BasePrice:   big.NewInt(10_000_000_000_000), // 0.00001 ETH per token
			Slope:       big.NewInt(2_000_000),
			SupplyCap:   wad(700_000_000),
			TotalSupply: wad(1_000_000_000),
		},
		Fees:           FeeConfig{PlatformBps: 100, CreatorBps: 50},
		MinPurchaseWei: big.NewInt(1_000_000_000), // 1 gwei
		Meta:           TokenMeta{Name: "Launch Token", Symbol: "LAUNCH", Link: "https://example.com/launch"},
	}
}

// capturingEmitter records everything the ledger announces.
type capturingEmitter struct {
	created    []CreatedNotice
	trades     []*TradeReceipt
	migrations []MigrationNotice
}

func (e *capturingEmitter) MarketCreated(n CreatedNotice) { e.created = append(e.created, n) }

func (e *capturingEmitter) TradeExecuted(r *TradeReceipt) { e.trades = append(e.trades, r) }

func (e *capturingEmitter) MarketMigrated(n MigrationNotice) { e.migrations = append(e.migrations, n) }

// settableClock can move in any direction, unlike ManualClock.
type settableClock struct {
	block uint64
}

func (c *settableClock) Current() uint64 { return c.block }

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *Book, *ManualClock, *capturingEmitter) {
	t.Helper()
	book := NewBook()
	clock := NewManualClock(1)
	emitter := &capturingEmitter{}
	ledger, err := NewLedger(cfg, book, clock, emitter, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ledger, book, clock, emitter
}

func TestNewLedgerValidation(t *testing.T) {
	base := testLedgerConfig()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero market address", func(c *Config) { c.Market = common.Address{} }, ErrZeroAddress},
		{"zero owner address", func(c *Config) { c.Owner = common.Address{} }, ErrZeroAddress},
		{"zero treasury address", func(c *Config) { c.Treasury = common.Address{} }, ErrZeroAddress},
		{"zero creator address", func(c *Config) { c.Creator = common.Address{} }, ErrZeroAddress},
		{"bad curve params", func(c *Config) { c.Curve.BasePrice = big.NewInt(0) }, curve.ErrInvalidParams},
		{"fees over 100 percent", func(c *Config) { c.Fees = FeeConfig{PlatformBps: 9000, CreatorBps: 1500} }, ErrInvalidFeeRates},
		{"empty token name", func(c *Config) { c.Meta.Name = "" }, ErrInvalidMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewLedger(cfg, NewBook(), NewManualClock(1), nil, zaptest.NewLogger(t))
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("nil custody", func(t *testing.T) {
		_, err := NewLedger(base, nil, NewManualClock(1), nil, zaptest.NewLogger(t))
		require.Error(t, err)
	})
	t.Run("nil clock", func(t *testing.T) {
		_, err := NewLedger(base, NewBook(), nil, nil, zaptest.NewLogger(t))
		require.Error(t, err)
	})
	t.Run("negative minimum purchase", func(t *testing.T) {
		cfg := base
		cfg.MinPurchaseWei = big.NewInt(-1)
		_, err := NewLedger(cfg, NewBook(), NewManualClock(1), nil, zaptest.NewLogger(t))
		require.Error(t, err)
	})
}

func TestNewLedgerMintsSupplyAndAnnounces(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, emitter := newTestLedger(t, cfg)

	assert.Equal(t, 0, book.Balance(addrMarket, AssetToken).Cmp(cfg.Curve.TotalSupply),
		"full token supply should sit in market custody")
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
	assert.False(t, ledger.Migrated())

	require.Len(t, emitter.created, 1)
	created := emitter.created[0]
	assert.Equal(t, addrMarket, created.Market)
	assert.Equal(t, addrCreator, created.Creator)
	assert.Equal(t, "LAUNCH", created.Meta.Symbol)
	assert.Equal(t, 0, created.SupplyCap.Cmp(cfg.Curve.SupplyCap))
	assert.Equal(t, uint64(1), created.Block)
	assert.Equal(t, uint32(0), created.Index)
}

func TestBuyFirstPurchase(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, emitter := newTestLedger(t, cfg)

	ethIn := weiETH(1)
	book.Deposit(addrAlice, AssetWei, ethIn)

	receipt, err := ledger.Buy(context.Background(), addrAlice, ethIn, nil)
	require.NoError(t, err)

	// Fees are exact basis-point cuts of the submitted amount.
	wantPlatform := big.NewInt(10_000_000_000_000_000) // 1% of 1 ETH
	wantCreator := big.NewInt(5_000_000_000_000_000)   // 0.5% of 1 ETH
	assert.Equal(t, 0, receipt.PlatformFee.Cmp(wantPlatform))
	assert.Equal(t, 0, receipt.CreatorFee.Cmp(wantCreator))
	assert.Equal(t, 0, book.Balance(addrTreasury, AssetWei).Cmp(wantPlatform))
	assert.Equal(t, 0, book.Balance(addrCreator, AssetWei).Cmp(wantCreator))

	// Tokens out are positive and in the neighbourhood netIn/basePrice, a
	// little under because the price rises across the fill.
	assert.Equal(t, 1, receipt.NetOut.Sign())
	assert.Equal(t, 1, receipt.NetOut.Cmp(wad(97_000)))
	assert.Equal(t, -1, receipt.NetOut.Cmp(wad(98_500)))

	// Sold supply advanced by exactly the tokens delivered.
	assert.Equal(t, 0, receipt.SoldSupply.Cmp(receipt.NetOut))
	assert.Equal(t, 0, ledger.SoldSupply().Cmp(receipt.NetOut))

	// Full net amount was consumed, nothing refunded, buyer holds the fill.
	assert.Equal(t, 0, receipt.Refund.Sign())
	assert.Equal(t, 0, book.Balance(addrAlice, AssetWei).Sign())
	assert.Equal(t, 0, book.Balance(addrAlice, AssetToken).Cmp(receipt.NetOut))

	netIn := new(big.Int).Sub(ethIn, wantPlatform)
	netIn.Sub(netIn, wantCreator)
	assert.Equal(t, 0, book.Balance(addrMarket, AssetWei).Cmp(netIn), "reserve holds the net deposit")

	assert.False(t, receipt.Migrated)
	require.Len(t, emitter.trades, 1)
	assert.Equal(t, receipt, emitter.trades[0])
}

func TestBuyRejections(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(10))

	ctx := context.Background()

	_, err := ledger.Buy(ctx, addrAlice, nil, nil)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = ledger.Buy(ctx, addrAlice, big.NewInt(0), nil)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = ledger.Buy(ctx, addrAlice, big.NewInt(-5), nil)
	require.ErrorIs(t, err, ErrZeroAmount)

	// One wei under the minimum purchase.
	_, err = ledger.Buy(ctx, addrAlice, big.NewInt(999_999_999), nil)
	require.ErrorIs(t, err, ErrBelowMinimumPurchase)

	// Any rejection leaves the ledger untouched.
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
	assert.Equal(t, 0, book.Balance(addrMarket, AssetWei).Sign())
	assert.Equal(t, 0, book.Balance(addrAlice, AssetWei).Cmp(weiETH(10)))

	// The exact minimum is accepted.
	_, err = ledger.Buy(ctx, addrAlice, big.NewInt(1_000_000_000), nil)
	require.NoError(t, err)
}

func TestBuySlippageExceeded(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	quote, err := ledger.QuoteBuy(weiETH(1))
	require.NoError(t, err)

	tooMany := new(big.Int).Add(quote.Out, big.NewInt(1))
	_, err = ledger.Buy(context.Background(), addrAlice, weiETH(1), tooMany)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	assert.Equal(t, 0, ledger.SoldSupply().Sign())

	// Asking for exactly the quoted amount settles.
	receipt, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), quote.Out)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.NetOut.Cmp(quote.Out))
}

func TestBuyConsumedEntirelyByFees(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.Fees = FeeConfig{PlatformBps: 10_000, CreatorBps: 0}
	cfg.MinPurchaseWei = nil
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	_, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.ErrorIs(t, err, ErrBelowMinimumPurchase)
}

func TestBuyTooSmallForOneTokenUnit(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.Curve.BasePrice = wad(2) // 2 ETH per whole token
	cfg.Fees = FeeConfig{}
	cfg.MinPurchaseWei = nil
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, big.NewInt(1))

	_, err := ledger.Buy(context.Background(), addrAlice, big.NewInt(1), nil)
	require.ErrorIs(t, err, ErrBelowMinimumPurchase)
}

func TestSameBlockTradeRejected(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(5))
	book.Deposit(addrBob, AssetWei, weiETH(5))

	ctx := context.Background()
	receipt, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)

	// Second trade from the same address in the same block, either side.
	_, err = ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.ErrorIs(t, err, ErrSameBlockTrade)
	_, err = ledger.Sell(ctx, addrAlice, receipt.NetOut, nil)
	require.ErrorIs(t, err, ErrSameBlockTrade)

	// A different address trades freely in the same block.
	_, err = ledger.Buy(ctx, addrBob, weiETH(1), nil)
	require.NoError(t, err)

	// Next block reopens the address.
	clock.Advance()
	_, err = ledger.Sell(ctx, addrAlice, receipt.NetOut, nil)
	require.NoError(t, err)
}

func TestSellRoundTripRetainsMostValue(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	ctx := context.Background()
	buy, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)

	clock.Advance()
	sell, err := ledger.Sell(ctx, addrAlice, buy.NetOut, nil)
	require.NoError(t, err)

	// Immediate full unwind returns at least 90% of the wei in.
	floor := new(big.Int).Mul(weiETH(1), big.NewInt(90))
	floor.Div(floor, big.NewInt(100))
	recovered := book.Balance(addrAlice, AssetWei)
	assert.Equal(t, 0, recovered.Cmp(sell.NetOut))
	assert.True(t, recovered.Cmp(floor) >= 0,
		"recovered %s of 1 ETH", curve.FormatWAD(recovered))

	// Supply fully unwound, tokens back in custody, reserve never negative.
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
	assert.Equal(t, 0, book.Balance(addrAlice, AssetToken).Sign())
	assert.Equal(t, 0, book.Balance(addrMarket, AssetToken).Cmp(cfg.Curve.TotalSupply))
	assert.True(t, book.Balance(addrMarket, AssetWei).Sign() >= 0)
}

func TestSellMoreThanSoldSupplyFails(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	ctx := context.Background()

	// Nothing sold yet: even a funded seller cannot sell one token unit.
	book.Deposit(addrBob, AssetToken, wad(10))
	_, err := ledger.Sell(ctx, addrBob, big.NewInt(1), nil)
	require.ErrorIs(t, err, curve.ErrInsufficientSupply)

	buy, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	clock.Advance()

	over := new(big.Int).Add(buy.NetOut, big.NewInt(1))
	_, err = ledger.Sell(ctx, addrBob, over, nil)
	require.ErrorIs(t, err, curve.ErrInsufficientSupply)
	assert.Equal(t, 0, ledger.SoldSupply().Cmp(buy.NetOut), "failed sell must not move supply")
}

func TestSellRejections(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	ctx := context.Background()
	buy, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	clock.Advance()

	_, err = ledger.Sell(ctx, addrAlice, nil, nil)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = ledger.Sell(ctx, addrAlice, big.NewInt(0), nil)
	require.ErrorIs(t, err, ErrZeroAmount)

	// Min-out above the achievable payout.
	quote, err := ledger.QuoteSell(buy.NetOut)
	require.NoError(t, err)
	tooMuch := new(big.Int).Add(quote.Out, big.NewInt(1))
	_, err = ledger.Sell(ctx, addrAlice, buy.NetOut, tooMuch)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	// Seller without the tokens.
	_, err = ledger.Sell(ctx, addrBob, buy.NetOut, nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, 0, ledger.SoldSupply().Cmp(buy.NetOut))
}

func TestBuyClampsAtSupplyCapAndMigrates(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.Curve = curve.Params{
		BasePrice:   big.NewInt(10_000_000_000_000),
		Slope:       big.NewInt(0),
		SupplyCap:   wad(1000),
		TotalSupply: wad(2000),
	}
	cfg.Fees = FeeConfig{}
	cfg.MinPurchaseWei = nil
	ledger, book, _, emitter := newTestLedger(t, cfg)

	// Flat curve: the cap costs exactly 1000 * 1e13 = 0.01 ETH.
	costToCap := big.NewInt(10_000_000_000_000_000)
	deposit := new(big.Int).Lsh(costToCap, 1)
	book.Deposit(addrAlice, AssetWei, deposit)

	receipt, err := ledger.Buy(context.Background(), addrAlice, deposit, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, receipt.NetOut.Cmp(wad(1000)), "fill clamps to the cap")
	assert.Equal(t, 0, receipt.Refund.Cmp(costToCap), "unused wei stays with the buyer")
	assert.True(t, receipt.Migrated)
	assert.True(t, ledger.Migrated())

	assert.Equal(t, 0, book.Balance(addrAlice, AssetWei).Cmp(costToCap))
	assert.Equal(t, 0, book.Balance(addrMarket, AssetWei).Cmp(costToCap))
	assert.Equal(t, 0, ledger.SoldSupply().Cmp(wad(1000)))

	require.Len(t, emitter.migrations, 1)
	migration := emitter.migrations[0]
	assert.False(t, migration.Forced)
	assert.Equal(t, 0, migration.SoldSupply.Cmp(wad(1000)))
	assert.Equal(t, 0, migration.Reserve.Cmp(costToCap))

	// The market is closed for good.
	_, err = ledger.Buy(context.Background(), addrAlice, costToCap, nil)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
	_, err = ledger.Sell(context.Background(), addrAlice, wad(1), nil)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
	_, err = ledger.QuoteBuy(costToCap)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
}

func TestBuyStopsExactlyAtCap(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.Curve = curve.Params{
		BasePrice:   big.NewInt(10_000_000_000_000),
		Slope:       big.NewInt(0),
		SupplyCap:   wad(1000),
		TotalSupply: wad(1000),
	}
	cfg.Fees = FeeConfig{}
	cfg.MinPurchaseWei = nil
	ledger, book, _, _ := newTestLedger(t, cfg)

	costToCap := big.NewInt(10_000_000_000_000_000)
	book.Deposit(addrAlice, AssetWei, costToCap)

	receipt, err := ledger.Buy(context.Background(), addrAlice, costToCap, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.NetOut.Cmp(wad(1000)))
	assert.Equal(t, 0, receipt.Refund.Sign(), "exact fill needs no refund")
	assert.True(t, receipt.Migrated)
	assert.Equal(t, 0, ledger.SoldSupply().Cmp(cfg.Curve.SupplyCap))
}

func TestBuyInsufficientBalanceIsAtomic(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, emitter := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	ctx := context.Background()
	_, err := ledger.Buy(ctx, addrAlice, weiETH(2), nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved and nothing was announced.
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
	assert.Equal(t, 0, book.Balance(addrAlice, AssetWei).Cmp(weiETH(1)))
	assert.Equal(t, 0, book.Balance(addrTreasury, AssetWei).Sign())
	assert.Empty(t, emitter.trades)

	// A failed trade does not burn the address's block slot.
	book.Deposit(addrAlice, AssetWei, weiETH(1))
	_, err = ledger.Buy(ctx, addrAlice, weiETH(2), nil)
	require.NoError(t, err)
}

func TestForceMigrate(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, emitter := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	require.ErrorIs(t, ledger.ForceMigrate(addrAlice), ErrNotOwner)
	assert.False(t, ledger.Migrated())

	require.NoError(t, ledger.ForceMigrate(addrOwner))
	assert.True(t, ledger.Migrated())

	require.Len(t, emitter.migrations, 1)
	assert.True(t, emitter.migrations[0].Forced)

	// The gate fires once, by either path.
	require.ErrorIs(t, ledger.ForceMigrate(addrOwner), ErrAlreadyMigrated)
	_, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
}

func TestSetFeeRates(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(2))

	require.ErrorIs(t, ledger.SetFeeRates(addrAlice, 200, 100), ErrNotOwner)
	require.ErrorIs(t, ledger.SetFeeRates(addrOwner, 9000, 1500), ErrInvalidFeeRates)

	// Re-applying the current rates is a no-op.
	require.NoError(t, ledger.SetFeeRates(addrOwner, 100, 50))

	require.NoError(t, ledger.SetFeeRates(addrOwner, 200, 100))
	receipt, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.PlatformFee.Cmp(big.NewInt(20_000_000_000_000_000)), "2% of 1 ETH")
	assert.Equal(t, 0, receipt.CreatorFee.Cmp(big.NewInt(10_000_000_000_000_000)), "1% of 1 ETH")
}

func TestSetTreasury(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	newTreasury := common.HexToAddress("0x00000000000000000000000000000000000000C2")

	require.ErrorIs(t, ledger.SetTreasury(addrAlice, newTreasury), ErrNotOwner)
	require.ErrorIs(t, ledger.SetTreasury(addrOwner, common.Address{}), ErrZeroAddress)
	require.NoError(t, ledger.SetTreasury(addrOwner, cfg.Treasury), "same address is a no-op")

	require.NoError(t, ledger.SetTreasury(addrOwner, newTreasury))
	receipt, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Balance(newTreasury, AssetWei).Cmp(receipt.PlatformFee))
	assert.Equal(t, 0, book.Balance(cfg.Treasury, AssetWei).Sign())
}

func TestQuoteMatchesTradeAndDoesNotMutate(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	first, err := ledger.QuoteBuy(weiETH(1))
	require.NoError(t, err)
	second, err := ledger.QuoteBuy(weiETH(1))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Out.Cmp(second.Out), "quoting must not move the curve")
	assert.Equal(t, 0, ledger.SoldSupply().Sign())

	receipt, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.NetOut.Cmp(first.Out))
	assert.Equal(t, 0, receipt.PlatformFee.Cmp(first.PlatformFee))
	assert.Equal(t, 0, receipt.CreatorFee.Cmp(first.CreatorFee))

	clock.Advance()
	sellQuote, err := ledger.QuoteSell(receipt.NetOut)
	require.NoError(t, err)
	sell, err := ledger.Sell(context.Background(), addrAlice, receipt.NetOut, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sell.NetOut.Cmp(sellQuote.Out))
}

func TestReceiptOrderingKeys(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(5))
	book.Deposit(addrBob, AssetWei, weiETH(5))

	ctx := context.Background()

	// Creation took (1, 0); trades in the same block keep counting up.
	r1, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Block)
	assert.Equal(t, uint32(1), r1.Index)

	r2, err := ledger.Buy(ctx, addrBob, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r2.Block)
	assert.Equal(t, uint32(2), r2.Index)

	// A new block resets the intra-block index.
	clock.Advance()
	r3, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r3.Block)
	assert.Equal(t, uint32(0), r3.Index)
}

func TestOrderingKeySurvivesClockRollback(t *testing.T) {
	cfg := testLedgerConfig()
	book := NewBook()
	clock := &settableClock{block: 5}
	emitter := &capturingEmitter{}
	ledger, err := NewLedger(cfg, book, clock, emitter, zaptest.NewLogger(t))
	require.NoError(t, err)

	book.Deposit(addrAlice, AssetWei, weiETH(2))
	book.Deposit(addrBob, AssetWei, weiETH(2))

	ctx := context.Background()
	r1, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r1.Block)

	// The clock jumps backwards; the ordering key must not.
	clock.block = 3
	r2, err := ledger.Buy(ctx, addrBob, weiETH(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r2.Block)
	assert.Equal(t, r1.Index+1, r2.Index)
}

func TestConservationAcrossRandomTrades(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.MinPurchaseWei = nil
	ledger, book, clock, _ := newTestLedger(t, cfg)

	actors := []common.Address{addrAlice, addrBob, addrCarol}
	deposited := new(big.Int)
	for _, a := range actors {
		book.Deposit(a, AssetWei, weiETH(50))
		deposited.Add(deposited, weiETH(50))
	}

	pricing, err := curve.New(cfg.Curve)
	require.NoError(t, err)

	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	checkInvariants := func(step int) {
		soldSupply := ledger.SoldSupply()
		tokensOut := new(big.Int)
		weiOut := new(big.Int)
		for _, a := range actors {
			tokensOut.Add(tokensOut, book.Balance(a, AssetToken))
			weiOut.Add(weiOut, book.Balance(a, AssetWei))
		}
		weiOut.Add(weiOut, book.Balance(addrTreasury, AssetWei))
		weiOut.Add(weiOut, book.Balance(addrCreator, AssetWei))
		reserve := book.Balance(addrMarket, AssetWei)

		// Tokens: custody plus holders always covers the full mint.
		held := new(big.Int).Add(book.Balance(addrMarket, AssetToken), tokensOut)
		require.Equal(t, 0, held.Cmp(cfg.Curve.TotalSupply), "step %d: token conservation", step)
		require.Equal(t, 0, soldSupply.Cmp(tokensOut), "step %d: sold supply tracks holders", step)

		// Wei: nothing minted, nothing burned.
		total := new(big.Int).Add(reserve, weiOut)
		require.Equal(t, 0, total.Cmp(deposited), "step %d: wei conservation", step)

		// Solvency: the reserve always covers a full unwind.
		owed, err := pricing.IntegralAt(soldSupply)
		require.NoError(t, err)
		require.True(t, reserve.Cmp(owed) >= 0, "step %d: reserve %s below owed %s",
			step, curve.FormatWAD(reserve), curve.FormatWAD(owed))
	}

	for step := 0; step < 60; step++ {
		clock.Advance()
		actor := actors[rng.Intn(len(actors))]
		holdings := book.Balance(actor, AssetToken)

		if holdings.Sign() > 0 && rng.Intn(3) == 0 {
			amount := new(big.Int).Rsh(holdings, 1)
			if amount.Sign() == 0 {
				amount.Set(holdings)
			}
			_, err := ledger.Sell(ctx, actor, amount, nil)
			require.NoError(t, err, "step %d sell", step)
		} else {
			amount := new(big.Int).Mul(big.NewInt(int64(1+rng.Intn(1000))), big.NewInt(1e15))
			if book.Balance(actor, AssetWei).Cmp(amount) < 0 {
				continue
			}
			_, err := ledger.Buy(ctx, actor, amount, nil)
			require.NoError(t, err, "step %d buy", step)
		}
		checkInvariants(step)
	}

	// Full unwind drains holders back to zero supply without breaking the
	// reserve.
	for _, actor := range actors {
		holdings := book.Balance(actor, AssetToken)
		if holdings.Sign() == 0 {
			continue
		}
		clock.Advance()
		_, err := ledger.Sell(ctx, actor, holdings, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
	assert.Equal(t, 0, book.Balance(addrMarket, AssetToken).Cmp(cfg.Curve.TotalSupply))
	assert.True(t, book.Balance(addrMarket, AssetWei).Sign() >= 0)
}

func TestSnapshot(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	_, err := ledger.Buy(context.Background(), addrAlice, weiETH(1), nil)
	require.NoError(t, err)

	snap := ledger.Snapshot()
	assert.Equal(t, addrMarket, snap.Market)
	assert.Equal(t, 0, snap.SoldSupply.Cmp(ledger.SoldSupply()))
	assert.Equal(t, 0, snap.Reserve.Cmp(book.Balance(addrMarket, AssetWei)))
	assert.Equal(t, 0, snap.TokenBalance.Cmp(book.Balance(addrMarket, AssetToken)))
	assert.False(t, snap.Migrated)
	assert.Equal(t, uint64(100), snap.PlatformBps)
	assert.Equal(t, uint64(50), snap.CreatorBps)
	assert.Equal(t, addrTreasury, snap.Treasury)
	assert.Equal(t, addrOwner, snap.Owner)
}

func TestBuyCancelledContext(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, _, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ledger.SoldSupply().Sign())
}

func TestMigrationPreservesBalances(t *testing.T) {
	cfg := testLedgerConfig()
	ledger, book, clock, _ := newTestLedger(t, cfg)
	book.Deposit(addrAlice, AssetWei, weiETH(2))

	ctx := context.Background()
	receipt, err := ledger.Buy(ctx, addrAlice, weiETH(1), nil)
	require.NoError(t, err)
	clock.Advance()

	reserveBefore := book.Balance(addrMarket, AssetWei)
	require.NoError(t, ledger.ForceMigrate(addrOwner))

	// Migration closes trading but touches no balances.
	assert.Equal(t, 0, book.Balance(addrMarket, AssetWei).Cmp(reserveBefore))
	assert.Equal(t, 0, book.Balance(addrAlice, AssetToken).Cmp(receipt.NetOut))
	assert.Equal(t, 0, ledger.SoldSupply().Cmp(receipt.NetOut))

	_, err = ledger.Sell(ctx, addrAlice, receipt.NetOut, nil)
	require.ErrorIs(t, err, ErrAlreadyMigrated)
}
