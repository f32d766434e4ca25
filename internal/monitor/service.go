// internal/monitor/service.go
package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/events"
	"github.com/rovshanmuradov/curve-engine/internal/metrics"
)

// defaultSummaryInterval spaces the periodic log summaries.
const defaultSummaryInterval = 30 * time.Second

// Config wires the monitor service.
type Config struct {
	Bus             *events.Bus
	Collector       *metrics.Collector // optional, mirrors bus health gauges
	Logger          *zap.Logger
	SummaryInterval time.Duration
}

// Service is a live subscriber on the event bus: it accumulates per-market
// rolling stats from trade and migration events and logs periodic summaries.
// It reads only the event stream, never ledger state, so it observes exactly
// what downstream consumers observe.
type Service struct {
	mu      sync.RWMutex
	markets map[common.Address]*MarketStats

	bus       *events.Bus
	collector *metrics.Collector
	logger    *zap.Logger
	interval  time.Duration
	subs      []events.Subscription
}

// NewService subscribes a monitor to the bus. Call Close to detach it.
func NewService(cfg Config) (*Service, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("monitor: event bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.SummaryInterval
	if interval <= 0 {
		interval = defaultSummaryInterval
	}

	s := &Service{
		markets:   make(map[common.Address]*MarketStats),
		bus:       cfg.Bus,
		collector: cfg.Collector,
		logger:    logger.Named("monitor"),
		interval:  interval,
	}
	s.subs = []events.Subscription{
		cfg.Bus.SubscribeFunc(events.MarketCreated, s.onMarketCreated),
		cfg.Bus.SubscribeFunc(events.TradeExecuted, s.onTradeExecuted),
		cfg.Bus.SubscribeFunc(events.MarketMigrated, s.onMarketMigrated),
	}
	return s, nil
}

// Run logs summaries on the configured interval until the context ends. A
// final summary goes out on shutdown.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Monitor started", zap.Duration("summary_interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.mirrorBusHealth()
			s.logSummary()
			return ctx.Err()
		case <-ticker.C:
			s.mirrorBusHealth()
			s.logSummary()
		}
	}
}

// Close detaches the service from the bus. Accumulated stats stay readable.
func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// Snapshot returns a copy of every market's stats, ordered by address.
func (s *Service) Snapshot() []MarketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MarketStats, 0, len(s.markets))
	for _, stats := range s.markets {
		out = append(out, stats.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Market.Hex() < out[j].Market.Hex()
	})
	return out
}

// MarketStats returns a copy of one market's stats.
func (s *Service) MarketStats(market common.Address) (MarketStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.markets[market]
	if !ok {
		return MarketStats{}, false
	}
	return stats.clone(), true
}

func (s *Service) onMarketCreated(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.MarketCreatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	s.mu.Lock()
	stats := s.stats(ev.Market)
	stats.Symbol = ev.Symbol
	stats.Name = ev.Name
	stats.OpenedAt = ev.Timestamp()
	s.mu.Unlock()

	s.logger.Info("Tracking market",
		zap.String("market", ev.Market.Hex()),
		zap.String("symbol", ev.Symbol))
	return nil
}

func (s *Service) onTradeExecuted(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.TradeExecutedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats(ev.Market)
	stats.Trades++
	stats.LastTradeAt = ev.Timestamp()
	if ev.SoldSupply != nil {
		stats.SoldSupply.Set(ev.SoldSupply)
	}
	stats.Migrated = ev.Migrated
	addFees(stats.FeesWei, ev.PlatformFee, ev.CreatorFee)

	switch ev.Side {
	case "buy":
		stats.Buys++
		// GrossIn minus the refund is the wei that actually moved.
		weiPaid := new(big.Int).Set(ev.GrossIn)
		if ev.Refund != nil {
			weiPaid.Sub(weiPaid, ev.Refund)
		}
		stats.BuyVolumeWei.Add(stats.BuyVolumeWei, weiPaid)
		stats.TokensBought.Add(stats.TokensBought, ev.NetOut)
		stats.LastPrice = impliedPrice(weiPaid, ev.NetOut)
	case "sell":
		stats.Sells++
		weiOut := new(big.Int).Set(ev.NetOut)
		addFees(weiOut, ev.PlatformFee, ev.CreatorFee)
		stats.SellVolumeWei.Add(stats.SellVolumeWei, weiOut)
		stats.TokensSold.Add(stats.TokensSold, ev.GrossIn)
		stats.LastPrice = impliedPrice(weiOut, ev.GrossIn)
	}
	return nil
}

func (s *Service) onMarketMigrated(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.MarketMigratedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	s.mu.Lock()
	stats := s.stats(ev.Market)
	stats.Migrated = true
	stats.Forced = ev.Forced
	if ev.SoldSupply != nil {
		stats.SoldSupply.Set(ev.SoldSupply)
	}
	s.mu.Unlock()

	s.logger.Info("Market migrated",
		zap.String("market", ev.Market.Hex()),
		zap.Bool("forced", ev.Forced),
		zap.String("sold_supply", curve.FormatWAD(ev.SoldSupply)))
	return nil
}

// stats returns the entry for a market, creating it on first sight. Trades
// can arrive before the creation event when the monitor attaches late.
// Callers hold s.mu.
func (s *Service) stats(market common.Address) *MarketStats {
	stats, ok := s.markets[market]
	if !ok {
		stats = newMarketStats(market)
		s.markets[market] = stats
	}
	return stats
}

func (s *Service) mirrorBusHealth() {
	if s.collector == nil {
		return
	}
	s.collector.SetDroppedEvents(s.bus.Stats().Dropped)
}

func (s *Service) logSummary() {
	snapshot := s.Snapshot()
	busStats := s.bus.Stats()

	var trades uint64
	migrated := 0
	for _, m := range snapshot {
		trades += m.Trades
		if m.Migrated {
			migrated++
		}
	}
	s.logger.Info("Market summary",
		zap.Int("markets", len(snapshot)),
		zap.Uint64("trades", trades),
		zap.Int("migrated", migrated),
		zap.Uint64("dropped_events", busStats.Dropped),
		zap.Int("pending_events", busStats.Pending))

	for _, m := range snapshot {
		if m.Trades == 0 {
			continue
		}
		s.logger.Info("Market stats",
			zap.String("market", m.Market.Hex()),
			zap.String("symbol", m.Symbol),
			zap.Uint64("buys", m.Buys),
			zap.Uint64("sells", m.Sells),
			zap.String("buy_volume_eth", curve.FormatWAD(m.BuyVolumeWei)),
			zap.String("sell_volume_eth", curve.FormatWAD(m.SellVolumeWei)),
			zap.String("last_price_eth", curve.FormatWAD(m.LastPrice)),
			zap.String("sold_supply", curve.FormatWAD(m.SoldSupply)),
			zap.Bool("migrated", m.Migrated))
	}
}

func addFees(dst, platform, creator *big.Int) {
	if platform != nil {
		dst.Add(dst, platform)
	}
	if creator != nil {
		dst.Add(dst, creator)
	}
}
