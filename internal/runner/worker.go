// internal/runner/worker.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/engine"
	"github.com/rovshanmuradov/curve-engine/internal/market"
	"github.com/rovshanmuradov/curve-engine/internal/task"
)

const (
	// maxSameBlockRetries bounds how many blocks a worker waits out when an
	// actor has already traded in the current one.
	maxSameBlockRetries = 3
	blockPollInterval   = 25 * time.Millisecond
	blockWaitTimeout    = 5 * time.Second
)

// WorkerPool executes plan tasks against the engine. Workers share one task
// channel; each task settles independently, so pool size only bounds
// cross-market parallelism.
type WorkerPool struct {
	wg      sync.WaitGroup
	ctx     context.Context
	tasks   <-chan *task.Task
	engine  *engine.Engine
	clock   market.BlockClock
	markets map[string]common.Address
	logger  *zap.Logger
}

func NewWorkerPool(
	ctx context.Context,
	eng *engine.Engine,
	clock market.BlockClock,
	markets map[string]common.Address,
	tasks <-chan *task.Task,
	logger *zap.Logger,
) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		ctx:     ctx,
		tasks:   tasks,
		engine:  eng,
		clock:   clock,
		markets: markets,
		logger:  logger,
	}
}

func (wp *WorkerPool) Start(n int) {
	for i := 0; i < n; i++ {
		wp.wg.Add(1)
		go wp.worker(i + 1)
	}
}

func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	logger := wp.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		select {
		case <-wp.ctx.Done():
			logger.Debug("Worker shutting down due to context cancellation")
			return
		case t, ok := <-wp.tasks:
			if !ok {
				logger.Debug("Task channel closed")
				return
			}
			wp.handleTask(wp.ctx, t, logger)
		}
	}
}

func (wp *WorkerPool) handleTask(ctx context.Context, t *task.Task, logger *zap.Logger) {
	marketAddr, ok := wp.resolveMarket(t.Market)
	if !ok {
		logger.Warn("Skipping task - market not registered", zap.String("market", t.Market))
		return
	}
	amount, err := t.AmountWAD()
	if err != nil {
		logger.Warn("Skipping task - bad amount", zap.String("task", t.TaskName), zap.Error(err))
		return
	}
	actor := t.ActorAddress()

	logger.Info("Executing task",
		zap.String("task", t.TaskName),
		zap.String("side", t.Side),
		zap.String("market", marketAddr.Hex()),
		zap.String("actor", actor.Hex()),
		zap.String("amount", curve.FormatWAD(amount)))

	// Buys are funded up front; the payment rides in with the task.
	if t.Side == task.SideBuy {
		if err := wp.engine.Deposit(marketAddr, actor, market.AssetWei, amount); err != nil {
			logger.Error("Task funding failed", zap.String("task", t.TaskName), zap.Error(err))
			return
		}
	}

	receipt, err := wp.executeWithRetry(ctx, t, marketAddr, actor, amount, logger)
	if err != nil {
		logger.Error("Task execution failed",
			zap.String("task", t.TaskName),
			zap.Error(err))
		return
	}

	logger.Info("Task executed successfully",
		zap.String("task", t.TaskName),
		zap.String("out", curve.FormatWAD(receipt.NetOut)),
		zap.String("sold_supply", curve.FormatWAD(receipt.SoldSupply)),
		zap.Uint64("block", receipt.Block),
		zap.Bool("migrated", receipt.Migrated))
}

// executeWithRetry settles the trade, waiting out the one-trade-per-block
// rule when the actor already traded in the current block.
func (wp *WorkerPool) executeWithRetry(ctx context.Context, t *task.Task, marketAddr, actor common.Address, amount *big.Int, logger *zap.Logger) (*market.TradeReceipt, error) {
	for attempt := 0; ; attempt++ {
		receipt, err := wp.trade(ctx, t, marketAddr, actor, amount)
		if err == nil || !errors.Is(err, market.ErrSameBlockTrade) || attempt >= maxSameBlockRetries {
			return receipt, err
		}
		logger.Debug("Actor already traded this block, waiting for the next one",
			zap.String("task", t.TaskName),
			zap.Int("attempt", attempt+1))
		if err := wp.waitNextBlock(ctx); err != nil {
			return nil, err
		}
	}
}

func (wp *WorkerPool) trade(ctx context.Context, t *task.Task, marketAddr, actor common.Address, amount *big.Int) (*market.TradeReceipt, error) {
	switch t.Side {
	case task.SideBuy:
		quote, err := wp.engine.QuoteBuy(marketAddr, amount)
		if err != nil {
			return nil, err
		}
		minOut := t.Slippage().MinOut(quote.Out)
		return wp.engine.Buy(ctx, marketAddr, actor, amount, minOut)
	case task.SideSell:
		quote, err := wp.engine.QuoteSell(marketAddr, amount)
		if err != nil {
			return nil, err
		}
		minOut := t.Slippage().MinOut(quote.Out)
		return wp.engine.Sell(ctx, marketAddr, actor, amount, minOut)
	default:
		return nil, fmt.Errorf("unsupported side %q", t.Side)
	}
}

// waitNextBlock polls the clock until it leaves the current block.
func (wp *WorkerPool) waitNextBlock(ctx context.Context) error {
	block := wp.clock.Current()
	deadline := time.After(blockWaitTimeout)
	ticker := time.NewTicker(blockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for a block after %d", block)
		case <-ticker.C:
			if wp.clock.Current() != block {
				return nil
			}
		}
	}
}

func (wp *WorkerPool) resolveMarket(ref string) (common.Address, bool) {
	if addr, ok := wp.markets[ref]; ok {
		return addr, true
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), true
	}
	return common.Address{}, false
}
