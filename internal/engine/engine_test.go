// internal/engine/engine_test.go
package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/market"
)

var (
	engOwner    = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	engTreasury = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	engCreator  = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	engAlice    = common.HexToAddress("0x0000000000000000000000000000000000000AaA")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func testCurveParams() curve.Params {
	return curve.Params{
		BasePrice:   big.NewInt(10_000_000_000_000),
		Slope:       big.NewInt(2_000_000),
		SupplyCap:   wad(700_000_000),
		TotalSupply: wad(1_000_000_000),
	}
}

func testCreateParams() CreateParams {
	return CreateParams{
		Creator: engCreator,
		Curve:   testCurveParams(),
		Meta:    market.TokenMeta{Name: "Launch Token", Symbol: "LAUNCH"},
	}
}

func newTestEngine(t *testing.T) (*Engine, *market.ManualClock) {
	t.Helper()
	clock := market.NewManualClock(1)
	eng, err := New(Config{
		Owner:    engOwner,
		Treasury: engTreasury,
		Fees:     market.FeeConfig{PlatformBps: 100, CreatorBps: 50},
	}, clock, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return eng, clock
}

func TestNewEngineValidation(t *testing.T) {
	clock := market.NewManualClock(1)
	logger := zaptest.NewLogger(t)

	_, err := New(Config{Treasury: engTreasury}, clock, nil, nil, logger)
	require.ErrorIs(t, err, market.ErrZeroAddress)

	_, err = New(Config{Owner: engOwner}, clock, nil, nil, logger)
	require.ErrorIs(t, err, market.ErrZeroAddress)

	_, err = New(Config{Owner: engOwner, Treasury: engTreasury,
		Fees: market.FeeConfig{PlatformBps: 9000, CreatorBps: 1500}}, clock, nil, nil, logger)
	require.ErrorIs(t, err, market.ErrInvalidFeeRates)

	_, err = New(Config{Owner: engOwner, Treasury: engTreasury}, nil, nil, nil, logger)
	require.Error(t, err)
}

func TestCreateMarketDerivesAddresses(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.CreateMarket(ctx, testCreateParams())
	require.NoError(t, err)
	second, err := eng.CreateMarket(ctx, testCreateParams())
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, first.ID())
	assert.NotEqual(t, first.ID(), second.ID(), "each market gets a fresh address")
	assert.Len(t, eng.Markets(), 2)
}

func TestCreateMarketExplicitAddress(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	params := testCreateParams()
	params.Market = common.HexToAddress("0x00000000000000000000000000000000000000A1")

	ledger, err := eng.CreateMarket(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, params.Market, ledger.ID())

	_, err = eng.CreateMarket(ctx, params)
	require.ErrorIs(t, err, ErrMarketExists)
}

func TestCreateMarketOverrides(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	params := testCreateParams()
	params.Fees = &market.FeeConfig{PlatformBps: 0, CreatorBps: 0}
	params.MinPurchaseWei = big.NewInt(1)

	ledger, err := eng.CreateMarket(ctx, params)
	require.NoError(t, err)

	snap := ledger.Snapshot()
	assert.Equal(t, uint64(0), snap.PlatformBps)
	assert.Equal(t, uint64(0), snap.CreatorBps)
}

func TestEngineTradeRoundTrip(t *testing.T) {
	eng, clock := newTestEngine(t)
	ctx := context.Background()

	ledger, err := eng.CreateMarket(ctx, testCreateParams())
	require.NoError(t, err)
	id := ledger.ID()

	require.NoError(t, eng.Deposit(id, engAlice, market.AssetWei, wad(1)))

	balance, err := eng.Balance(id, engAlice, market.AssetWei)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(wad(1)))

	quote, err := eng.QuoteBuy(id, wad(1))
	require.NoError(t, err)

	receipt, err := eng.Buy(ctx, id, engAlice, wad(1), quote.Out)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.NetOut.Cmp(quote.Out))

	clock.Advance()
	sellQuote, err := eng.QuoteSell(id, receipt.NetOut)
	require.NoError(t, err)
	sell, err := eng.Sell(ctx, id, engAlice, receipt.NetOut, sellQuote.Out)
	require.NoError(t, err)
	assert.Equal(t, 0, sell.NetOut.Cmp(sellQuote.Out))

	snap, err := eng.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.SoldSupply.Sign())
}

func TestEngineUnknownMarket(t *testing.T) {
	eng, _ := newTestEngine(t)
	ghost := common.HexToAddress("0x00000000000000000000000000000000000000EE")

	_, err := eng.Buy(context.Background(), ghost, engAlice, wad(1), nil)
	require.ErrorIs(t, err, ErrMarketNotFound)
	_, err = eng.QuoteSell(ghost, wad(1))
	require.ErrorIs(t, err, ErrMarketNotFound)
	err = eng.Deposit(ghost, engAlice, market.AssetWei, wad(1))
	require.ErrorIs(t, err, ErrMarketNotFound)
	_, err = eng.Snapshot(ghost)
	require.ErrorIs(t, err, ErrMarketNotFound)
	err = eng.ForceMigrate(ghost, engOwner)
	require.ErrorIs(t, err, ErrMarketNotFound)

	_, ok := eng.Ledger(ghost)
	assert.False(t, ok)
}

func TestEngineMarketsAreIndependent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := eng.CreateMarket(ctx, testCreateParams())
	require.NoError(t, err)
	b, err := eng.CreateMarket(ctx, testCreateParams())
	require.NoError(t, err)

	require.NoError(t, eng.Deposit(a.ID(), engAlice, market.AssetWei, wad(2)))
	require.NoError(t, eng.Deposit(b.ID(), engAlice, market.AssetWei, wad(2)))

	// The same address may trade both markets within one block; the
	// one-trade-per-block rule is scoped per market.
	_, err = eng.Buy(ctx, a.ID(), engAlice, wad(1), nil)
	require.NoError(t, err)
	_, err = eng.Buy(ctx, b.ID(), engAlice, wad(1), nil)
	require.NoError(t, err)

	snapA, err := eng.Snapshot(a.ID())
	require.NoError(t, err)
	snapB, err := eng.Snapshot(b.ID())
	require.NoError(t, err)
	assert.Equal(t, 0, snapA.SoldSupply.Cmp(snapB.SoldSupply),
		"identical trades on identical curves land identically")

	require.NoError(t, eng.ForceMigrate(a.ID(), engOwner))
	assert.True(t, a.Migrated())
	assert.False(t, b.Migrated(), "migrating one market must not touch another")
}

func TestEngineParallelMarkets(t *testing.T) {
	eng, clock := newTestEngine(t)
	ctx := context.Background()

	const markets = 8
	ledgers := make([]*market.Ledger, markets)
	for i := range ledgers {
		ledger, err := eng.CreateMarket(ctx, testCreateParams())
		require.NoError(t, err)
		ledgers[i] = ledger
		require.NoError(t, eng.Deposit(ledger.ID(), engAlice, market.AssetWei, wad(10)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, markets*3)
	for i := 0; i < markets; i++ {
		wg.Add(1)
		go func(id common.Address) {
			defer wg.Done()
			for block := 0; block < 3; block++ {
				if _, err := eng.Buy(ctx, id, engAlice, wad(1), nil); err != nil {
					errs <- err
					return
				}
				clock.Advance()
			}
		}(ledgers[i].ID())
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, ledger := range ledgers {
		assert.Equal(t, 1, ledger.SoldSupply().Sign())
	}
}
