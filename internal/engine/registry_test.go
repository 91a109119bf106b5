package engine

import (
	"errors"
	"testing"

	"github.com/emberhedge/firemark/internal/domain"
)

func TestRegistryAbsentIDs(t *testing.T) {
	r := NewRegistry()

	if r.Exists(1) {
		t.Fatalf("empty registry reports id 1 exists")
	}
	if st := r.State(1); st != domain.StateNotSet {
		t.Fatalf("absent id state = %s, want not_set", st)
	}
	if _, err := r.Details(1); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Fatalf("Details on absent id: err = %v", err)
	}
	if _, err := r.Vaults(1); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Fatalf("Vaults on absent id: err = %v", err)
	}
	if _, _, err := r.LiquidationState(1); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Fatalf("LiquidationState on absent id: err = %v", err)
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []domain.MarketID{3, 1, 2} {
		r.put(domain.Market{ID: id, State: domain.StateOpen})
	}

	got := r.List()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, m := range got {
		if m.ID != domain.MarketID(i+1) {
			t.Fatalf("list not ordered by id: %v", got)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
}

func TestRegistryCopiesRecords(t *testing.T) {
	r := NewRegistry()
	r.put(domain.Market{ID: 1, State: domain.StateOpen})

	m, err := r.Details(1)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	m.State = domain.StateLiquidated

	if st := r.State(1); st != domain.StateOpen {
		t.Fatalf("mutating a returned copy leaked into the registry")
	}
}
