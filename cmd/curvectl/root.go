// cmd/curvectl/root.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
)

// rootCmd is the base command when curvectl is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "curvectl",
	Short: "Offline tooling for the bonding curve engine",
	Long: `curvectl works against the curve engine's data without a running
daemon: it prices hypothetical trades, replays randomized trade sequences
through the settlement path and exports journaled events for analysis.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// curveFlags binds the curve parameters shared by quote and simulate. All
// values are decimal strings in whole-token or ETH units; parsing scales
// them to 18 decimals.
type curveFlags struct {
	basePrice   string
	slope       string
	supplyCap   string
	totalSupply string
}

func (f *curveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.basePrice, "base-price", "0.00001", "marginal price in ETH per whole token at zero sold supply")
	cmd.Flags().StringVar(&f.slope, "slope", "0.000000002", "price increase in ETH per whole token sold")
	cmd.Flags().StringVar(&f.supplyCap, "supply-cap", "700000000", "token supply sellable through the curve")
	cmd.Flags().StringVar(&f.totalSupply, "total-supply", "1000000000", "token supply minted into market custody")
}

func (f *curveFlags) params() (curve.Params, error) {
	basePrice, err := curve.ParseWAD(f.basePrice)
	if err != nil {
		return curve.Params{}, fmt.Errorf("parse --base-price: %w", err)
	}
	slope, err := curve.ParseWAD(f.slope)
	if err != nil {
		return curve.Params{}, fmt.Errorf("parse --slope: %w", err)
	}
	supplyCap, err := curve.ParseWAD(f.supplyCap)
	if err != nil {
		return curve.Params{}, fmt.Errorf("parse --supply-cap: %w", err)
	}
	totalSupply, err := curve.ParseWAD(f.totalSupply)
	if err != nil {
		return curve.Params{}, fmt.Errorf("parse --total-supply: %w", err)
	}
	return curve.Params{
		BasePrice:   basePrice,
		Slope:       slope,
		SupplyCap:   supplyCap,
		TotalSupply: totalSupply,
	}, nil
}
