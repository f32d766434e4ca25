// internal/runner/runner.go
package runner

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/engine"
	"github.com/rovshanmuradov/curve-engine/internal/market"
	"github.com/rovshanmuradov/curve-engine/internal/task"
)

// Config tunes plan replay.
type Config struct {
	PlanPath string
	Workers  int
}

// Runner replays a trade plan against the engine: it opens the plan's
// markets, then feeds the tasks to a worker pool. It owns no lifecycle of
// its own; cancel the context to stop it between tasks.
type Runner struct {
	cfg         Config
	engine      *engine.Engine
	clock       market.BlockClock
	taskManager *task.Manager
	logger      *zap.Logger
}

// NewRunner assembles a plan runner.
func NewRunner(cfg Config, eng *engine.Engine, clock market.BlockClock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:         cfg,
		engine:      eng,
		clock:       clock,
		taskManager: task.NewManager(logger),
		logger:      logger.Named("runner"),
	}
}

// Run loads the plan, opens its markets and executes every task. It returns
// once all workers have drained the task channel or the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	plan, err := r.taskManager.LoadPlan(r.cfg.PlanPath)
	if err != nil {
		return err
	}

	markets, err := r.openMarkets(ctx, plan)
	if err != nil {
		return err
	}

	if len(plan.Tasks) == 0 {
		r.logger.Info("Plan has no tasks, markets opened only")
		return nil
	}

	taskCh := make(chan *task.Task, len(plan.Tasks))
	for _, t := range plan.Tasks {
		taskCh <- t
	}
	close(taskCh)

	numWorkers := r.cfg.Workers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	r.logger.Info("Starting plan execution",
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("workers", numWorkers))

	pool := NewWorkerPool(ctx, r.engine, r.clock, markets, taskCh, r.logger)
	pool.Start(numWorkers)
	pool.Wait()

	r.logger.Info("All workers finished")
	return ctx.Err()
}

// openMarkets creates every market the plan declares and returns the
// symbol-to-address index tasks resolve against.
func (r *Runner) openMarkets(ctx context.Context, plan *task.Plan) (map[string]common.Address, error) {
	markets := make(map[string]common.Address, len(plan.Markets))
	for _, spec := range plan.Markets {
		params, err := spec.CurveParams()
		if err != nil {
			return nil, err
		}
		meta, err := spec.Meta()
		if err != nil {
			return nil, err
		}
		ledger, err := r.engine.CreateMarket(ctx, engine.CreateParams{
			Creator: spec.CreatorAddress(),
			Curve:   params,
			Meta:    meta,
		})
		if err != nil {
			return nil, fmt.Errorf("open market %s: %w", spec.Symbol, err)
		}
		markets[spec.Symbol] = ledger.ID()
		r.logger.Info("Market opened from plan",
			zap.String("symbol", spec.Symbol),
			zap.String("market", ledger.ID().Hex()))
	}
	return markets, nil
}
