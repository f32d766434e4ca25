// internal/events/types.go
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType represents the type of event.
type EventType string

const (
	// Market lifecycle events
	MarketCreated  EventType = "market.created"
	MarketMigrated EventType = "market.migrated"

	// Trade events
	TradeExecuted EventType = "trade.executed"
)

// Event is the base interface for all events. Every event belongs to one
// market and carries the (block, index) key that fixes its position in that
// market's history.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	MarketID() common.Address
	OrderKey() (block uint64, index uint32)
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	Market    common.Address
	Block     uint64
	Index     uint32
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// MarketID returns the market the event belongs to.
func (e BaseEvent) MarketID() common.Address {
	return e.Market
}

// OrderKey returns the event's position in its market's history.
func (e BaseEvent) OrderKey() (uint64, uint32) {
	return e.Block, e.Index
}

// MarketCreatedEvent is emitted once when a market opens.
type MarketCreatedEvent struct {
	BaseEvent
	Creator     common.Address
	Name        string
	Symbol      string
	Link        string
	SupplyCap   *big.Int
	TotalSupply *big.Int
}

// TradeExecutedEvent is emitted for every settled buy or sell.
type TradeExecutedEvent struct {
	BaseEvent
	Actor       common.Address
	Side        string // "buy" or "sell"
	GrossIn     *big.Int
	NetOut      *big.Int
	PlatformFee *big.Int
	CreatorFee  *big.Int
	Refund      *big.Int
	SoldSupply  *big.Int
	Migrated    bool
}

// MarketMigratedEvent is emitted once when the gate fires, by cap or by the
// owner.
type MarketMigratedEvent struct {
	BaseEvent
	SoldSupply *big.Int
	Reserve    *big.Int
	Forced     bool
}
