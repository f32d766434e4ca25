// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Record is one journaled market event row. Amount fields hold decimal wei
// or token strings so no precision is lost between drivers; fields that do
// not apply to the event type stay empty.
type Record struct {
	Market      string    `json:"market"`
	Block       uint64    `json:"block"`
	Index       uint32    `json:"index"`
	Type        string    `json:"type"`
	Actor       string    `json:"actor,omitempty"`
	Side        string    `json:"side,omitempty"`
	GrossIn     string    `json:"gross_in,omitempty"`
	NetOut      string    `json:"net_out,omitempty"`
	PlatformFee string    `json:"platform_fee,omitempty"`
	CreatorFee  string    `json:"creator_fee,omitempty"`
	Refund      string    `json:"refund,omitempty"`
	SoldSupply  string    `json:"sold_supply,omitempty"`
	Reserve     string    `json:"reserve,omitempty"`
	Name        string    `json:"name,omitempty"`
	Symbol      string    `json:"symbol,omitempty"`
	Link        string    `json:"link,omitempty"`
	SupplyCap   string    `json:"supply_cap,omitempty"`
	TotalSupply string    `json:"total_supply,omitempty"`
	Forced      bool      `json:"forced,omitempty"`
	Migrated    bool      `json:"migrated,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the unique ordering key of the record within its market.
func (r Record) Key() string {
	return fmt.Sprintf("%s/%d/%d", r.Market, r.Block, r.Index)
}

// Journal persists the ordered stream of market events. Append is idempotent
// on (market, block, index): re-appending a stored key changes nothing, so a
// delivery pipeline that retries achieves exactly-once storage.
type Journal interface {
	// Append stores one record, keyed by (market, block, index).
	Append(ctx context.Context, rec Record) error
	// List returns records ordered by market, block and index. An empty
	// market selects all markets.
	List(ctx context.Context, market string, limit, offset int) ([]Record, error)
	// Count reports stored records, all markets when market is empty.
	Count(ctx context.Context, market string) (int64, error)
	// Close releases the underlying store.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
)

// Config selects and parameterizes a journal driver.
type Config struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"` // pebble data directory
	DSN    string `mapstructure:"dsn"`  // postgres connection string
}

// ErrUnknownDriver is returned by Open for an unrecognized driver name.
var ErrUnknownDriver = errors.New("storage: unknown journal driver")

// Open constructs the journal named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Journal, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverPebble:
		return OpenPebble(cfg.Path, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
