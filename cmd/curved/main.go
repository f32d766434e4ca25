// cmd/curved/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/curve-engine/internal/config"
	"github.com/rovshanmuradov/curve-engine/internal/engine"
	"github.com/rovshanmuradov/curve-engine/internal/events"
	"github.com/rovshanmuradov/curve-engine/internal/market"
	"github.com/rovshanmuradov/curve-engine/internal/metrics"
	"github.com/rovshanmuradov/curve-engine/internal/monitor"
	"github.com/rovshanmuradov/curve-engine/internal/runner"
	"github.com/rovshanmuradov/curve-engine/internal/storage"
	"github.com/rovshanmuradov/curve-engine/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	if cfg.LogFile != "" {
		logCfg.LogFile = cfg.LogFile
	}
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting curve engine",
		zap.String("config", *configPath),
		zap.String("journal", cfg.Journal.Driver),
		zap.Duration("block_interval", cfg.BlockInterval()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Engine exited with error", zap.Error(err))
	}
	log.Info("Curve engine stopped")
}

// run wires the daemon and blocks until the context ends or a component
// fails.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	journal, err := storage.Open(ctx, cfg.Journal, log.WithComponent("journal"))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	// Event pipeline: receipts go to the outbox for durable journaling and
	// to the bus for live subscribers.
	bus := events.NewBus(log.WithComponent("bus"), cfg.EventBuffer)
	outbox := events.NewOutbox()
	recorder := events.NewRecorder(outbox, bus, log.WithComponent("recorder"))
	relay := events.NewRelay(outbox, journal, events.RelayConfig{}, collector, log.WithComponent("relay"))

	clock := market.NewIntervalClock(cfg.BlockInterval())

	eng, err := engine.New(engine.Config{
		Owner:    cfg.OwnerAddress(),
		Treasury: cfg.TreasuryAddress(),
		Fees: market.FeeConfig{
			PlatformBps: cfg.PlatformFeeBps,
			CreatorBps:  cfg.CreatorFeeBps,
		},
		MinPurchaseWei: cfg.MinPurchaseWei(),
	}, clock, recorder, collector, log.WithComponent("engine"))
	if err != nil {
		return fmt.Errorf("assemble engine: %w", err)
	}

	mon, err := monitor.NewService(monitor.Config{
		Bus:       bus,
		Collector: collector,
		Logger:    log.WithComponent("monitor"),
	})
	if err != nil {
		return err
	}
	defer mon.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(ctx)
	})

	g.Go(func() error {
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("Metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	// With a plan configured the daemon replays it; the engine keeps serving
	// quotes and metrics after the plan drains.
	if cfg.TasksFile != "" {
		replay := runner.NewRunner(runner.Config{
			PlanPath: cfg.TasksFile,
			Workers:  cfg.Workers,
		}, eng, clock, log.WithComponent("runner"))
		g.Go(func() error {
			return replay.Run(ctx)
		})
	}

	err = g.Wait()

	// The relay has already swept the outbox; flush bus subscribers before
	// the journal closes.
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if busErr := bus.Shutdown(shutCtx); busErr != nil {
		log.Warn("Event bus did not drain cleanly", zap.Error(busErr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
