// Package vault implements the paired risk/hedge asset pools backing a
// market. Share accounting is out of scope here: pools track raw asset
// balances, and the only operation the adjudication core depends on is the
// unilateral "transfer my whole balance to my counterpart" primitive.
package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/emberhedge/firemark/internal/domain"
)

// Gate is consulted before any user fund movement. The market state machine
// implements it: deposits only while Open, withdrawals never while Locked.
type Gate interface {
	DepositAllowed(id domain.MarketID) bool
	WithdrawAllowed(id domain.MarketID) bool
}

// Vault is one pool of a market's pair. All balance mutations are serialized
// by a mutex shared with the counterpart so a pair transfer is atomic.
type Vault struct {
	mu          *sync.Mutex // shared across the pair
	ref         domain.VaultRef
	side        domain.VaultSide
	marketID    domain.MarketID
	balance     *big.Int
	counterpart *Vault
	gate        Gate
}

// Pair is a market's two pools wired to each other.
type Pair struct {
	Risk  *Vault
	Hedge *Vault
}

// NewPair creates the risk/hedge pool pair for a market. Both vaults start
// empty, reference each other as counterparts, and consult the given gate
// before user deposits and withdrawals. The mutual counterpart transfer is
// pre-authorized by construction: only the pair itself can move pooled
// assets between the two sides.
func NewPair(marketID domain.MarketID, gate Gate) *Pair {
	mu := &sync.Mutex{}
	risk := &Vault{
		mu:       mu,
		ref:      domain.VaultRef(uuid.New().String()),
		side:     domain.VaultSideRisk,
		marketID: marketID,
		balance:  new(big.Int),
		gate:     gate,
	}
	hedge := &Vault{
		mu:       mu,
		ref:      domain.VaultRef(uuid.New().String()),
		side:     domain.VaultSideHedge,
		marketID: marketID,
		balance:  new(big.Int),
		gate:     gate,
	}
	risk.counterpart = hedge
	hedge.counterpart = risk
	return &Pair{Risk: risk, Hedge: hedge}
}

// Ref returns the vault's immutable reference.
func (v *Vault) Ref() domain.VaultRef { return v.ref }

// Side returns which side of the pair this vault is.
func (v *Vault) Side() domain.VaultSide { return v.side }

// MarketID returns the market this vault belongs to.
func (v *Vault) MarketID() domain.MarketID { return v.marketID }

// Balance returns a copy of the vault's current asset balance.
func (v *Vault) Balance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance)
}

// Deposit adds amount to the pool. It fails with ErrDepositsClosed unless
// the market is Open.
func (v *Vault) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: deposit into %s: non-positive amount", v.ref)
	}
	if !v.gate.DepositAllowed(v.marketID) {
		return domain.ErrDepositsClosed
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
	return nil
}

// Withdraw removes amount from the pool. It fails with ErrWithdrawalsClosed
// while the market is Locked and with ErrInsufficientBalance when the pool
// holds less than amount.
func (v *Vault) Withdraw(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: withdraw from %s: non-positive amount", v.ref)
	}
	if !v.gate.WithdrawAllowed(v.marketID) {
		return domain.ErrWithdrawalsClosed
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balance.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	v.balance.Sub(v.balance, amount)
	return nil
}

// TransferAllToCounterpart moves the vault's entire balance into its
// counterpart. Moving "all current balance" makes retries safe: a duplicate
// trigger after a successful move finds zero balance and is a no-op.
func (v *Vault) TransferAllToCounterpart() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balance.Sign() == 0 {
		return nil
	}
	v.counterpart.balance.Add(v.counterpart.balance, v.balance)
	v.balance.SetInt64(0)
	return nil
}

// Ledger indexes live vaults by reference so read endpoints can resolve a
// VaultRef to a balance.
type Ledger struct {
	mu     sync.RWMutex
	vaults map[domain.VaultRef]*Vault
}

// NewLedger creates an empty vault ledger.
func NewLedger() *Ledger {
	return &Ledger{vaults: make(map[domain.VaultRef]*Vault)}
}

// Register adds both vaults of a pair to the ledger.
func (l *Ledger) Register(p *Pair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vaults[p.Risk.Ref()] = p.Risk
	l.vaults[p.Hedge.Ref()] = p.Hedge
}

// Get resolves a vault reference. It returns domain.ErrNotFound for refs
// that were never registered.
func (l *Ledger) Get(ref domain.VaultRef) (*Vault, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.vaults[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}
