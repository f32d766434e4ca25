// internal/market/custody.go
package market

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies a custody balance class. Each market custodies the quote
// currency (wei) and its own token.
type Asset string

const (
	AssetWei   Asset = "wei"
	AssetToken Asset = "token"
)

// Transfer moves an amount of one asset between custody accounts.
type Transfer struct {
	From   common.Address
	To     common.Address
	Asset  Asset
	Amount *big.Int
}

// Custody is the account book a ledger settles against. Apply commits a
// batch atomically: every transfer lands or none do, so a failed trade can
// never leave partial balance movements behind.
type Custody interface {
	// Deposit credits external value onto an account.
	Deposit(addr common.Address, asset Asset, amount *big.Int)
	// Apply settles a batch of transfers, all or nothing.
	Apply(transfers []Transfer) error
	// Balance reports the current balance, zero for unknown accounts.
	Balance(addr common.Address, asset Asset) *big.Int
}

// Book is the in-memory custody implementation. One Book backs one market,
// so independent markets never contend on its lock.
type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]map[Asset]*big.Int
}

// NewBook returns an empty custody book.
func NewBook() *Book {
	return &Book{balances: make(map[common.Address]map[Asset]*big.Int)}
}

// Deposit credits the account unconditionally.
func (b *Book) Deposit(addr common.Address, asset Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, asset, amount)
}

// Apply validates the net effect of the whole batch against current balances
// before touching anything, then commits. Within a batch, credits may fund
// later debits on the same account.
func (b *Book) Apply(transfers []Transfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	type slot struct {
		addr  common.Address
		asset Asset
	}
	deltas := make(map[slot]*big.Int)
	for _, t := range transfers {
		if t.Amount == nil || t.Amount.Sign() < 0 {
			return fmt.Errorf("custody: invalid transfer amount for %s", t.From.Hex())
		}
		if t.Amount.Sign() == 0 {
			continue
		}
		from := slot{t.From, t.Asset}
		if deltas[from] == nil {
			deltas[from] = new(big.Int)
		}
		deltas[from].Sub(deltas[from], t.Amount)

		to := slot{t.To, t.Asset}
		if deltas[to] == nil {
			deltas[to] = new(big.Int)
		}
		deltas[to].Add(deltas[to], t.Amount)
	}

	for s, delta := range deltas {
		if delta.Sign() >= 0 {
			continue
		}
		have := b.balance(s.addr, s.asset)
		if new(big.Int).Add(have, delta).Sign() < 0 {
			return fmt.Errorf("%w: %s short of %s", ErrInsufficientBalance, s.addr.Hex(), s.asset)
		}
	}

	for s, delta := range deltas {
		b.credit(s.addr, s.asset, delta)
	}
	return nil
}

// Balance returns a copy of the account balance.
func (b *Book) Balance(addr common.Address, asset Asset) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balance(addr, asset))
}

func (b *Book) balance(addr common.Address, asset Asset) *big.Int {
	if acct, ok := b.balances[addr]; ok {
		if v, ok := acct[asset]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *Book) credit(addr common.Address, asset Asset, delta *big.Int) {
	acct, ok := b.balances[addr]
	if !ok {
		acct = make(map[Asset]*big.Int)
		b.balances[addr] = acct
	}
	cur, ok := acct[asset]
	if !ok {
		cur = new(big.Int)
		acct[asset] = cur
	}
	cur.Add(cur, delta)
}
