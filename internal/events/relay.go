// internal/events/relay.go
package events

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/metrics"
	"github.com/rovshanmuradov/curve-engine/internal/storage"
)

// RelayConfig tunes the outbox-to-journal pump.
type RelayConfig struct {
	BatchSize  int           // events drained per wake, 0 drains everything
	FlushEvery time.Duration // periodic sweep even without wakes
	MaxTries   uint          // append attempts per event before giving the batch back
	RetryDelay time.Duration // initial backoff between attempts
}

func (c *RelayConfig) applyDefaults() {
	if c.FlushEvery <= 0 {
		c.FlushEvery = 2 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
}

// Relay pumps staged events into the journal. Journal appends are idempotent
// on the event's (market, block, index) key, so the relay retries freely:
// at-least-once delivery lands as exactly-once storage. Events that exhaust
// their retries go back to the outbox head, keeping order intact for the
// next sweep.
type Relay struct {
	outbox    *Outbox
	journal   storage.Journal
	logger    *zap.Logger
	cfg       RelayConfig
	collector *metrics.Collector
}

// NewRelay wires an outbox to a journal. The collector may be nil.
func NewRelay(outbox *Outbox, journal storage.Journal, cfg RelayConfig, collector *metrics.Collector, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Relay{
		outbox:    outbox,
		journal:   journal,
		logger:    logger.Named("relay"),
		cfg:       cfg,
		collector: collector,
	}
}

// Run pumps until ctx is cancelled, then makes a bounded final sweep so a
// clean shutdown does not strand staged events.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushEvery)
	defer ticker.Stop()

	r.logger.Info("Relay started",
		zap.Duration("flush_every", r.cfg.FlushEvery),
		zap.Uint("max_tries", r.cfg.MaxTries))

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.Flush(shutdownCtx); err != nil {
				r.logger.Warn("Events remain staged after shutdown sweep",
					zap.Int("pending", r.outbox.Len()),
					zap.Error(err))
			}
			r.logger.Info("Relay stopped")
			return nil
		case <-r.outbox.Ready():
			if err := r.Flush(ctx); err != nil {
				r.logger.Error("Flush failed, batch requeued", zap.Error(err))
			}
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Error("Flush failed, batch requeued", zap.Error(err))
			}
		}
	}
}

// Flush drains and journals everything currently staged. On a persistent
// append failure the undelivered remainder is requeued and the error
// returned.
func (r *Relay) Flush(ctx context.Context) error {
	for {
		batch := r.outbox.Drain(r.cfg.BatchSize)
		if len(batch) == 0 {
			return nil
		}
		for i, event := range batch {
			if err := r.persist(ctx, event); err != nil {
				r.outbox.Requeue(batch[i:])
				return err
			}
		}
	}
}

func (r *Relay) persist(ctx context.Context, event Event) error {
	rec := recordFor(event)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.RetryDelay
	policy.MaxInterval = r.cfg.RetryDelay * 10

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Journal append failed, retrying",
			zap.String("key", rec.Key()),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	operation := func() (struct{}, error) {
		err := r.journal.Append(ctx, rec)
		if r.collector != nil {
			r.collector.RecordJournalAppend(err == nil)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return fmt.Errorf("journal append %s: %w", rec.Key(), err)
	}
	return nil
}

// recordFor flattens an event into its journal row.
func recordFor(event Event) storage.Record {
	block, index := event.OrderKey()
	rec := storage.Record{
		Market:    event.MarketID().Hex(),
		Block:     block,
		Index:     index,
		Type:      string(event.Type()),
		CreatedAt: event.Timestamp(),
	}

	switch e := event.(type) {
	case *MarketCreatedEvent:
		rec.Actor = e.Creator.Hex()
		rec.Name = e.Name
		rec.Symbol = e.Symbol
		rec.Link = e.Link
		rec.SupplyCap = bigStr(e.SupplyCap)
		rec.TotalSupply = bigStr(e.TotalSupply)
	case *TradeExecutedEvent:
		rec.Actor = e.Actor.Hex()
		rec.Side = e.Side
		rec.GrossIn = bigStr(e.GrossIn)
		rec.NetOut = bigStr(e.NetOut)
		rec.PlatformFee = bigStr(e.PlatformFee)
		rec.CreatorFee = bigStr(e.CreatorFee)
		rec.Refund = bigStr(e.Refund)
		rec.SoldSupply = bigStr(e.SoldSupply)
		rec.Migrated = e.Migrated
	case *MarketMigratedEvent:
		rec.SoldSupply = bigStr(e.SoldSupply)
		rec.Reserve = bigStr(e.Reserve)
		rec.Forced = e.Forced
		rec.Migrated = true
	}
	return rec
}

func bigStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
