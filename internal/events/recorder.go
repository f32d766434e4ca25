// internal/events/recorder.go
package events

import (
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/market"
)

// Recorder turns ledger notices into events and fans them out: every event
// is staged in the outbox for durable journaling and offered to the bus for
// live subscribers. Ledgers call it inside their settlement lock, so both
// paths must stay non-blocking; the outbox appends to memory and the bus
// drops rather than waits.
type Recorder struct {
	outbox *Outbox
	bus    *Bus
	logger *zap.Logger
	now    func() time.Time
}

var _ market.Emitter = (*Recorder)(nil)

// NewRecorder wires the outbox and, optionally, a live bus. A nil bus keeps
// only the durable path.
func NewRecorder(outbox *Outbox, bus *Bus, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		outbox: outbox,
		bus:    bus,
		logger: logger.Named("recorder"),
		now:    time.Now,
	}
}

// MarketCreated records the market opening.
func (r *Recorder) MarketCreated(n market.CreatedNotice) {
	r.dispatch(&MarketCreatedEvent{
		BaseEvent: BaseEvent{
			EventType: MarketCreated,
			EventTime: r.now(),
			Market:    n.Market,
			Block:     n.Block,
			Index:     n.Index,
		},
		Creator:     n.Creator,
		Name:        n.Meta.Name,
		Symbol:      n.Meta.Symbol,
		Link:        n.Meta.Link,
		SupplyCap:   n.SupplyCap,
		TotalSupply: n.TotalSupply,
	})
}

// TradeExecuted records a settled trade.
func (r *Recorder) TradeExecuted(receipt *market.TradeReceipt) {
	r.dispatch(&TradeExecutedEvent{
		BaseEvent: BaseEvent{
			EventType: TradeExecuted,
			EventTime: r.now(),
			Market:    receipt.Market,
			Block:     receipt.Block,
			Index:     receipt.Index,
		},
		Actor:       receipt.Actor,
		Side:        string(receipt.Side),
		GrossIn:     receipt.GrossIn,
		NetOut:      receipt.NetOut,
		PlatformFee: receipt.PlatformFee,
		CreatorFee:  receipt.CreatorFee,
		Refund:      receipt.Refund,
		SoldSupply:  receipt.SoldSupply,
		Migrated:    receipt.Migrated,
	})
}

// MarketMigrated records the gate firing.
func (r *Recorder) MarketMigrated(n market.MigrationNotice) {
	r.dispatch(&MarketMigratedEvent{
		BaseEvent: BaseEvent{
			EventType: MarketMigrated,
			EventTime: r.now(),
			Market:    n.Market,
			Block:     n.Block,
			Index:     n.Index,
		},
		SoldSupply: n.SoldSupply,
		Reserve:    n.Reserve,
		Forced:     n.Forced,
	})
}

func (r *Recorder) dispatch(event Event) {
	r.outbox.Append(event)
	if r.bus != nil {
		// A full bus drops the live copy; the journal still gets it.
		_ = r.bus.Publish(event)
	}
}
