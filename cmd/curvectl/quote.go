// cmd/curvectl/quote.go
package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/market"
)

var (
	quoteCurve       curveFlags
	quoteSold        string
	quotePlatformBps uint64
	quoteCreatorBps  uint64
)

var quoteCmd = &cobra.Command{
	Use:   "quote [buy|sell] [amount]",
	Short: "Price one trade at a point on the curve",
	Long: `Quote previews a single trade without touching any state: the filled
amount, both fee cuts and any wei the fill would hand back.
Buy amounts are ETH, sell amounts are whole tokens.

Example:
    curvectl quote buy 1.5 --sold 250000000
    curvectl quote sell 100000 --sold 250000000 --slope 0.000000001`,
	Args: cobra.ExactArgs(2),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCurve.register(quoteCmd)
	quoteCmd.Flags().StringVar(&quoteSold, "sold", "0", "supply already sold, in whole tokens")
	quoteCmd.Flags().Uint64Var(&quotePlatformBps, "platform-bps", 100, "platform fee in basis points")
	quoteCmd.Flags().Uint64Var(&quoteCreatorBps, "creator-bps", 100, "creator fee in basis points")
}

func runQuote(cmd *cobra.Command, args []string) error {
	amount, err := curve.ParseWAD(args[1])
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	params, err := quoteCurve.params()
	if err != nil {
		return err
	}
	pricing, err := curve.New(params)
	if err != nil {
		return err
	}
	sold, err := curve.ParseWAD(quoteSold)
	if err != nil {
		return fmt.Errorf("parse --sold: %w", err)
	}
	fees := market.FeeConfig{PlatformBps: quotePlatformBps, CreatorBps: quoteCreatorBps}
	if err := fees.Validate(); err != nil {
		return err
	}
	priceBefore, err := pricing.PriceAt(sold)
	if err != nil {
		return err
	}

	switch args[0] {
	case "buy":
		platformFee, creatorFee, netIn := fees.Split(amount)
		tokens, ethUsed, err := pricing.TokensOutForETH(sold, netIn)
		if err != nil {
			return err
		}
		refund := new(big.Int).Sub(netIn, ethUsed)
		priceAfter, err := pricing.PriceAt(new(big.Int).Add(sold, tokens))
		if err != nil {
			return err
		}

		fmt.Printf("Buy %s ETH at sold supply %s\n", curve.FormatWAD(amount), curve.FormatWAD(sold))
		fmt.Printf("  Tokens out:   %s\n", curve.FormatWAD(tokens))
		fmt.Printf("  Platform fee: %s ETH\n", curve.FormatWAD(platformFee))
		fmt.Printf("  Creator fee:  %s ETH\n", curve.FormatWAD(creatorFee))
		if refund.Sign() > 0 {
			fmt.Printf("  Refund:       %s ETH\n", curve.FormatWAD(refund))
		}
		fmt.Printf("  Price:        %s -> %s ETH per token\n",
			curve.FormatWAD(priceBefore), curve.FormatWAD(priceAfter))

	case "sell":
		gross, err := pricing.ETHOutForTokens(sold, amount)
		if err != nil {
			return err
		}
		platformFee, creatorFee, netOut := fees.Split(gross)
		priceAfter, err := pricing.PriceAt(new(big.Int).Sub(sold, amount))
		if err != nil {
			return err
		}

		fmt.Printf("Sell %s tokens at sold supply %s\n", curve.FormatWAD(amount), curve.FormatWAD(sold))
		fmt.Printf("  ETH out:      %s\n", curve.FormatWAD(netOut))
		fmt.Printf("  Platform fee: %s ETH\n", curve.FormatWAD(platformFee))
		fmt.Printf("  Creator fee:  %s ETH\n", curve.FormatWAD(creatorFee))
		fmt.Printf("  Price:        %s -> %s ETH per token\n",
			curve.FormatWAD(priceBefore), curve.FormatWAD(priceAfter))

	default:
		return fmt.Errorf("side must be buy or sell, got %q", args[0])
	}
	return nil
}
