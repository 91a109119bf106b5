package engine

import (
	"sort"
	"sync"

	"github.com/emberhedge/firemark/internal/domain"
)

// Registry owns every market record. It is a dense integer-keyed arena:
// an id that was never created is simply absent, which is the single
// canonical definition of "does not exist" (StateNotSet is derived from
// absence, never stored).
type Registry struct {
	mu      sync.RWMutex
	markets map[domain.MarketID]*domain.Market
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{markets: make(map[domain.MarketID]*domain.Market)}
}

// put inserts or replaces a record. Only the engine mutates the registry,
// through the transition operations. The stored record is swapped whole
// under the write lock, never mutated in place, so concurrent readers see
// either the old record or the new one, complete.
func (r *Registry) put(m domain.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := m
	r.markets[m.ID] = &cp
}

// get returns a snapshot of the record. The engine mutates the copy and
// commits it back through put.
func (r *Registry) get(id domain.MarketID) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// Exists reports whether a market was ever created with this id.
func (r *Registry) Exists(id domain.MarketID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[id]
	return ok
}

// State returns the market's state, or StateNotSet for an id that was never
// created.
func (r *Registry) State(id domain.MarketID) domain.MarketState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return domain.StateNotSet
	}
	return m.State
}

// Details returns a copy of the market record.
func (r *Registry) Details(id domain.MarketID) (domain.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return *m, nil
}

// Vaults returns the market's immutable pool references.
func (r *Registry) Vaults(id domain.MarketID) (domain.VaultPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return domain.VaultPair{}, domain.ErrMarketNotFound
	}
	return domain.VaultPair{Risk: m.RiskVault, Hedge: m.HedgeVault}, nil
}

// LiquidationState returns the sticky liquidation flag and the liquidation
// time (0 when never liquidated).
func (r *Registry) LiquidationState(id domain.MarketID) (bool, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return false, 0, domain.ErrMarketNotFound
	}
	return m.HasLiquidated, m.LiquidationTime, nil
}

// List returns copies of all market records ordered by id.
func (r *Registry) List() []domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of markets ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
