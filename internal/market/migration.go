// internal/market/migration.go
package market

// Phase is the market lifecycle state.
type Phase int

const (
	// Trading is the initial phase: buys and sells settle against the curve.
	Trading Phase = iota
	// Migrated is terminal: the curve is closed and the reserve plus unsold
	// tokens await the external liquidity venue.
	Migrated
)

func (p Phase) String() string {
	if p == Migrated {
		return "migrated"
	}
	return "trading"
}

// Gate is the one-way Trading -> Migrated transition. It is not safe for
// unsynchronized use; the owning ledger serializes access under its lock.
type Gate struct {
	phase Phase
}

func NewGate() *Gate {
	return &Gate{phase: Trading}
}

func (g *Gate) Phase() Phase {
	return g.phase
}

func (g *Gate) Migrated() bool {
	return g.phase == Migrated
}

// Migrate fires the transition exactly once. Any later call fails and the
// phase never moves back.
func (g *Gate) Migrate() error {
	if g.phase == Migrated {
		return ErrAlreadyMigrated
	}
	g.phase = Migrated
	return nil
}
