// cmd/curvectl/simulate.go
package main

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/engine"
	"github.com/rovshanmuradov/curve-engine/internal/market"
)

var (
	simCurve       curveFlags
	simTrades      int
	simTraders     int
	simSeed        int64
	simMaxBuy      string
	simPlatformBps uint64
	simCreatorBps  uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay randomized trades through an in-memory engine",
	Long: `Simulate opens a fresh market and runs a randomized buy/sell sequence
against it, reporting fills, rejections and the final ledger state. The
final reserve is checked against the curve integral at the final sold
supply; a mismatch indicates a settlement bug.

Example:
    curvectl simulate --trades 500 --seed 42
    curvectl simulate --supply-cap 1000 --max-buy 5`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simCurve.register(simulateCmd)
	simulateCmd.Flags().IntVar(&simTrades, "trades", 200, "trade attempts to run")
	simulateCmd.Flags().IntVar(&simTraders, "traders", 8, "number of trading accounts")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed, 0 derives one from the clock")
	simulateCmd.Flags().StringVar(&simMaxBuy, "max-buy", "2", "largest single buy in ETH")
	simulateCmd.Flags().Uint64Var(&simPlatformBps, "platform-bps", 100, "platform fee in basis points")
	simulateCmd.Flags().Uint64Var(&simCreatorBps, "creator-bps", 100, "creator fee in basis points")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simTrades <= 0 || simTraders <= 0 {
		return fmt.Errorf("trades and traders must be positive")
	}
	params, err := simCurve.params()
	if err != nil {
		return err
	}
	maxBuy, err := curve.ParseWAD(simMaxBuy)
	if err != nil {
		return fmt.Errorf("parse --max-buy: %w", err)
	}
	if maxBuy.Sign() <= 0 {
		return fmt.Errorf("max-buy must be positive")
	}
	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	owner := common.HexToAddress("0x0000000000000000000000000000000000000001")
	treasury := common.HexToAddress("0x0000000000000000000000000000000000000002")
	creator := common.HexToAddress("0x0000000000000000000000000000000000000003")

	clock := market.NewManualClock(1)
	eng, err := engine.New(engine.Config{
		Owner:    owner,
		Treasury: treasury,
		Fees:     market.FeeConfig{PlatformBps: simPlatformBps, CreatorBps: simCreatorBps},
	}, clock, nil, nil, zap.NewNop())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ledger, err := eng.CreateMarket(ctx, engine.CreateParams{
		Creator: creator,
		Curve:   params,
		Meta:    market.TokenMeta{Name: "Simulated Token", Symbol: "SIM"},
	})
	if err != nil {
		return err
	}
	marketAddr := ledger.ID()

	// Fund every trader for the whole run up front.
	budget := new(big.Int).Mul(maxBuy, big.NewInt(int64(simTrades)))
	traders := make([]common.Address, simTraders)
	for i := range traders {
		traders[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		if err := eng.Deposit(marketAddr, traders[i], market.AssetWei, budget); err != nil {
			return err
		}
	}

	var (
		buys, sells int
		rejected    = make(map[string]int)
		migratedAt  uint64
	)
	for i := 0; i < simTrades; i++ {
		// Staying on the same block now and then exercises the
		// one-trade-per-block rule.
		if rng.Intn(10) > 0 {
			clock.Advance()
		}
		trader := traders[rng.Intn(len(traders))]
		tokenBalance, err := eng.Balance(marketAddr, trader, market.AssetToken)
		if err != nil {
			return err
		}

		var tradeErr error
		if rng.Intn(10) < 7 || tokenBalance.Sign() == 0 {
			_, tradeErr = eng.Buy(ctx, marketAddr, trader, randAmount(rng, maxBuy), nil)
			if tradeErr == nil {
				buys++
			}
		} else {
			_, tradeErr = eng.Sell(ctx, marketAddr, trader, randAmount(rng, tokenBalance), nil)
			if tradeErr == nil {
				sells++
			}
		}
		if tradeErr != nil {
			rejected[rejectReason(tradeErr)]++
		}
		if ledger.Migrated() {
			migratedAt = clock.Current()
			break
		}
	}

	snap, err := eng.Snapshot(marketAddr)
	if err != nil {
		return err
	}

	fmt.Printf("Simulation finished (seed %d)\n", seed)
	fmt.Printf("  Buys:         %d\n", buys)
	fmt.Printf("  Sells:        %d\n", sells)
	for _, reason := range sortedKeys(rejected) {
		fmt.Printf("  Rejected:     %d (%s)\n", rejected[reason], reason)
	}
	fmt.Printf("  Sold supply:  %s tokens\n", curve.FormatWAD(snap.SoldSupply))
	fmt.Printf("  Reserve:      %s ETH\n", curve.FormatWAD(snap.Reserve))
	if snap.Migrated {
		fmt.Printf("  Migrated:     yes (block %d)\n", migratedAt)
	} else {
		fmt.Printf("  Migrated:     no\n")
	}

	// The reserve must equal the curve integral over what stayed sold.
	pricing, err := curve.New(params)
	if err != nil {
		return err
	}
	expected, err := pricing.IntegralAt(snap.SoldSupply)
	if err != nil {
		return err
	}
	if expected.Cmp(snap.Reserve) != 0 {
		return fmt.Errorf("reserve conservation violated: reserve %s wei, curve integral %s wei",
			snap.Reserve, expected)
	}
	fmt.Printf("  Reserve matches the curve integral exactly\n")
	return nil
}

// randAmount draws a random amount in [1, max].
func randAmount(rng *rand.Rand, max *big.Int) *big.Int {
	r := new(big.Int).Rand(rng, max)
	return r.Add(r, big.NewInt(1))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, market.ErrSameBlockTrade):
		return "same-block trade"
	case errors.Is(err, market.ErrAlreadyMigrated):
		return "market migrated"
	case errors.Is(err, market.ErrBelowMinimumPurchase):
		return "below minimum purchase"
	case errors.Is(err, market.ErrInsufficientBalance):
		return "insufficient balance"
	case errors.Is(err, market.ErrSlippageExceeded):
		return "slippage exceeded"
	default:
		return err.Error()
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
