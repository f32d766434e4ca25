// internal/task/task.go
package task

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/market"
)

// Side values accepted in a plan file.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	// DefaultSlippageBps applies when a task omits its tolerance.
	DefaultSlippageBps = 100
	maxSlippageBps     = 10_000
)

// MarketSpec declares one market the runner opens before trading starts.
// Prices and supplies are human decimal strings ("0.00001" ETH, "700000000"
// tokens); scaling to 18 decimals happens at parse time.
type MarketSpec struct {
	Symbol      string `yaml:"symbol"`
	Name        string `yaml:"name"`
	Link        string `yaml:"link"`
	Creator     string `yaml:"creator"`
	BasePrice   string `yaml:"base_price"`
	Slope       string `yaml:"slope"`
	SupplyCap   string `yaml:"supply_cap"`
	TotalSupply string `yaml:"total_supply"`
}

// Validate checks the market fields without opening the market.
func (m MarketSpec) Validate() error {
	if _, err := m.Meta(); err != nil {
		return err
	}
	if !common.IsHexAddress(m.Creator) {
		return fmt.Errorf("market %s: creator must be a hex address", m.Symbol)
	}
	if _, err := m.CurveParams(); err != nil {
		return err
	}
	return nil
}

// Meta builds the validated token metadata.
func (m MarketSpec) Meta() (market.TokenMeta, error) {
	meta := market.TokenMeta{Name: m.Name, Symbol: m.Symbol, Link: m.Link}
	if err := meta.Validate(); err != nil {
		return market.TokenMeta{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	return meta, nil
}

// CreatorAddress returns the parsed creator identity.
func (m MarketSpec) CreatorAddress() common.Address {
	return common.HexToAddress(m.Creator)
}

// CurveParams parses the decimal fields into validated curve parameters.
func (m MarketSpec) CurveParams() (curve.Params, error) {
	basePrice, err := parseAmount("base_price", m.BasePrice)
	if err != nil {
		return curve.Params{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	slope := new(big.Int)
	if m.Slope != "" {
		slope, err = parseAmount("slope", m.Slope)
		if err != nil {
			return curve.Params{}, fmt.Errorf("market %s: %w", m.Symbol, err)
		}
	}
	supplyCap, err := parseAmount("supply_cap", m.SupplyCap)
	if err != nil {
		return curve.Params{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	totalSupply, err := parseAmount("total_supply", m.TotalSupply)
	if err != nil {
		return curve.Params{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}

	params := curve.Params{
		BasePrice:   basePrice,
		Slope:       slope,
		SupplyCap:   supplyCap,
		TotalSupply: totalSupply,
	}
	if err := params.Validate(); err != nil {
		return curve.Params{}, fmt.Errorf("market %s: %w", m.Symbol, err)
	}
	return params, nil
}

// Task is one trade the runner replays against the engine. Amount is ETH for
// buys and whole tokens for sells.
type Task struct {
	ID          int
	TaskName    string `yaml:"task_name"`
	Market      string `yaml:"market"` // plan symbol or market hex address
	Actor       string `yaml:"actor"`
	Side        string `yaml:"side"`
	Amount      string `yaml:"amount"`
	SlippageBps uint64 `yaml:"slippage_bps"`
	CreatedAt   time.Time
}

// Validate checks the task fields that do not need plan context.
func (t *Task) Validate() error {
	if t.TaskName == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if t.Market == "" {
		return fmt.Errorf("market cannot be empty")
	}
	if !common.IsHexAddress(t.Actor) {
		return fmt.Errorf("actor must be a hex address")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("invalid side: %q", t.Side)
	}
	if _, err := t.AmountWAD(); err != nil {
		return err
	}
	if t.SlippageBps > maxSlippageBps {
		return fmt.Errorf("slippage_bps must be at most %d", maxSlippageBps)
	}
	return nil
}

// ActorAddress returns the parsed trading identity.
func (t *Task) ActorAddress() common.Address {
	return common.HexToAddress(t.Actor)
}

// AmountWAD parses the amount as a positive 18-decimal scaled integer.
func (t *Task) AmountWAD() (*big.Int, error) {
	return parseAmount("amount", t.Amount)
}

// Slippage returns the tolerance, substituting the default for an omitted
// value.
func (t *Task) Slippage() market.SlippageBps {
	if t.SlippageBps == 0 {
		return market.SlippageBps(DefaultSlippageBps)
	}
	return market.SlippageBps(t.SlippageBps)
}

// Plan is the parsed trade plan: the markets to open, then the tasks to run.
type Plan struct {
	Markets []MarketSpec `yaml:"markets"`
	Tasks   []*Task      `yaml:"tasks"`
}

func parseAmount(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, err := curve.ParseWAD(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be greater than zero", field)
	}
	return amount, nil
}
