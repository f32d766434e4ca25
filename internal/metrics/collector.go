// internal/metrics/collector.go
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the engine's prometheus metrics. Construction registers
// everything against the given registerer, so tests can pass a private
// registry and the daemon the default one.
type Collector struct {
	trades        *prometheus.CounterVec
	tradeDuration *prometheus.HistogramVec
	fees          *prometheus.CounterVec
	soldSupply    *prometheus.GaugeVec
	reserve       *prometheus.GaugeVec
	migrations    *prometheus.CounterVec
	journal       *prometheus.CounterVec
	droppedEvents prometheus.Gauge
}

// NewCollector builds and registers the metric set. A nil registerer uses
// the process-wide default.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "curve_engine",
				Name:      "trades_total",
				Help:      "Settled and rejected trades by market, side and status",
			},
			[]string{"market", "side", "status"},
		),
		tradeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "curve_engine",
				Name:      "trade_duration_seconds",
				Help:      "Trade settlement duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"side"},
		),
		fees: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "curve_engine",
				Name:      "fees_wei_total",
				Help:      "Cumulative fees in wei by market and beneficiary",
			},
			[]string{"market", "beneficiary"},
		),
		soldSupply: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "curve_engine",
				Name:      "sold_supply_tokens",
				Help:      "Cumulative sold supply in whole tokens per market",
			},
			[]string{"market"},
		),
		reserve: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "curve_engine",
				Name:      "reserve_eth",
				Help:      "Market reserve in ETH",
			},
			[]string{"market"},
		),
		migrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "curve_engine",
				Name:      "migrations_total",
				Help:      "Gate transitions by trigger",
			},
			[]string{"trigger"},
		),
		journal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "curve_engine",
				Name:      "journal_appends_total",
				Help:      "Journal append attempts by status",
			},
			[]string{"status"},
		),
		droppedEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "curve_engine",
				Name:      "bus_dropped_events",
				Help:      "Live bus events dropped since start",
			},
		),
	}

	reg.MustRegister(
		c.trades, c.tradeDuration, c.fees,
		c.soldSupply, c.reserve,
		c.migrations, c.journal, c.droppedEvents,
	)
	return c
}

// RecordTrade counts one trade attempt and times it.
func (c *Collector) RecordTrade(market, side string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.trades.WithLabelValues(market, side, status).Inc()
	c.tradeDuration.WithLabelValues(side).Observe(duration.Seconds())
}

// RecordFees accumulates the wei cuts of a settled trade.
func (c *Collector) RecordFees(market string, platform, creator *big.Int) {
	if platform != nil && platform.Sign() > 0 {
		c.fees.WithLabelValues(market, "platform").Add(weiFloat(platform))
	}
	if creator != nil && creator.Sign() > 0 {
		c.fees.WithLabelValues(market, "creator").Add(weiFloat(creator))
	}
}

// SetMarketState publishes the per-market curve position.
func (c *Collector) SetMarketState(market string, soldSupply, reserve *big.Int) {
	if soldSupply != nil {
		c.soldSupply.WithLabelValues(market).Set(wadFloat(soldSupply))
	}
	if reserve != nil {
		c.reserve.WithLabelValues(market).Set(wadFloat(reserve))
	}
}

// RecordMigration counts a gate transition.
func (c *Collector) RecordMigration(forced bool) {
	trigger := "cap"
	if forced {
		trigger = "forced"
	}
	c.migrations.WithLabelValues(trigger).Inc()
}

// RecordJournalAppend counts one relay append attempt.
func (c *Collector) RecordJournalAppend(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.journal.WithLabelValues(status).Inc()
}

// SetDroppedEvents mirrors the bus drop counter.
func (c *Collector) SetDroppedEvents(n uint64) {
	c.droppedEvents.Set(float64(n))
}

// wadFloat renders an 18-decimal amount as whole units. Precision loss is
// fine here; exact values live in the journal.
func wadFloat(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}

func weiFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
