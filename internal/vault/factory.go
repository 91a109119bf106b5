package vault

import (
	"errors"
	"sync"

	"github.com/emberhedge/firemark/internal/domain"
)

// ErrGateNotBound is returned when pair creation is attempted before the
// factory has been wired to the state machine's gate. This is a
// deployment-time wiring error and must fail before any market exists.
var ErrGateNotBound = errors.New("vault: factory gate not bound")

// Factory creates pool pairs for new markets. The gate is bound once at
// wiring time; the state machine is the only component allowed to drive
// pair creation, and it cannot do so until the bind has happened.
type Factory struct {
	mu     sync.Mutex
	gate   Gate
	ledger *Ledger
}

// NewFactory creates a Factory that registers every pair it creates in the
// given ledger.
func NewFactory(ledger *Ledger) *Factory {
	return &Factory{ledger: ledger}
}

// BindGate wires the deposit/withdraw gate. Must be called exactly once
// during startup, before the first market is created.
func (f *Factory) BindGate(g Gate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = g
}

// CreatePair creates and registers the pool pair for a market. It fails
// with ErrGateNotBound until BindGate has run.
func (f *Factory) CreatePair(id domain.MarketID) (*Pair, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate == nil {
		return nil, ErrGateNotBound
	}

	pair := NewPair(id, gate)
	f.ledger.Register(pair)
	return pair, nil
}
