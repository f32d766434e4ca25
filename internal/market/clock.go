// internal/market/clock.go
package market

import (
	"sync"
	"time"
)

// BlockClock supplies the monotonic block number trades settle under. The
// engine runs outside a blockchain, so the clock stands in for the chain's
// block height: the one-trade-per-block rule and event ordering keys both
// read it.
type BlockClock interface {
	Current() uint64
}

// ManualClock is a hand-advanced clock for tests, simulations and replay.
type ManualClock struct {
	mu    sync.Mutex
	block uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{block: start}
}

func (c *ManualClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Advance moves to the next block and returns it.
func (c *ManualClock) Advance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	return c.block
}

// IntervalClock derives the block number from wall-clock time: block N covers
// [start + N*interval, start + (N+1)*interval).
type IntervalClock struct {
	start    time.Time
	interval time.Duration
	now      func() time.Time
}

func NewIntervalClock(interval time.Duration) *IntervalClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &IntervalClock{start: time.Now(), interval: interval, now: time.Now}
}

func (c *IntervalClock) Current() uint64 {
	elapsed := c.now().Sub(c.start)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.interval)
}
