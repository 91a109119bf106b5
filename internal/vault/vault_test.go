package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/emberhedge/firemark/internal/domain"
)

// stubGate allows or blocks fund movement globally.
type stubGate struct {
	deposits    bool
	withdrawals bool
}

func (g *stubGate) DepositAllowed(domain.MarketID) bool  { return g.deposits }
func (g *stubGate) WithdrawAllowed(domain.MarketID) bool { return g.withdrawals }

func TestPairWiring(t *testing.T) {
	pair := NewPair(1, &stubGate{})

	if pair.Risk.Ref() == pair.Hedge.Ref() {
		t.Fatalf("pair vaults share a ref")
	}
	if pair.Risk.Side() != domain.VaultSideRisk || pair.Hedge.Side() != domain.VaultSideHedge {
		t.Fatalf("pair sides wrong: %s / %s", pair.Risk.Side(), pair.Hedge.Side())
	}
	if pair.Risk.counterpart != pair.Hedge || pair.Hedge.counterpart != pair.Risk {
		t.Fatalf("counterpart links not mutual")
	}
	if pair.Risk.MarketID() != 1 {
		t.Fatalf("market id = %d, want 1", pair.Risk.MarketID())
	}
}

func TestDepositWithdrawGating(t *testing.T) {
	gate := &stubGate{deposits: true, withdrawals: true}
	pair := NewPair(1, gate)

	if err := pair.Risk.Deposit(big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pair.Risk.Withdraw(big.NewInt(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := pair.Risk.Balance(); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance = %s, want 600", got)
	}

	gate.deposits = false
	gate.withdrawals = false
	if err := pair.Risk.Deposit(big.NewInt(1)); !errors.Is(err, domain.ErrDepositsClosed) {
		t.Fatalf("gated deposit: err = %v, want ErrDepositsClosed", err)
	}
	if err := pair.Risk.Withdraw(big.NewInt(1)); !errors.Is(err, domain.ErrWithdrawalsClosed) {
		t.Fatalf("gated withdraw: err = %v, want ErrWithdrawalsClosed", err)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	pair := NewPair(1, &stubGate{deposits: true, withdrawals: true})

	if err := pair.Hedge.Deposit(big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pair.Hedge.Withdraw(big.NewInt(101)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestTransferAllToCounterpart(t *testing.T) {
	pair := NewPair(1, &stubGate{deposits: true, withdrawals: true})

	if err := pair.Risk.Deposit(big.NewInt(1000)); err != nil {
		t.Fatalf("deposit risk: %v", err)
	}
	if err := pair.Hedge.Deposit(big.NewInt(1000)); err != nil {
		t.Fatalf("deposit hedge: %v", err)
	}

	if err := pair.Risk.TransferAllToCounterpart(); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := pair.Risk.Balance(); got.Sign() != 0 {
		t.Fatalf("risk balance = %s, want 0", got)
	}
	if got := pair.Hedge.Balance(); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("hedge balance = %s, want 2000", got)
	}

	// A retried trigger finds zero balance and is a safe no-op.
	if err := pair.Risk.TransferAllToCounterpart(); err != nil {
		t.Fatalf("retried transfer: %v", err)
	}
	if got := pair.Hedge.Balance(); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("hedge balance after retry = %s, want 2000", got)
	}
}

func TestFactoryRequiresGate(t *testing.T) {
	ledger := NewLedger()
	f := NewFactory(ledger)

	if _, err := f.CreatePair(1); !errors.Is(err, ErrGateNotBound) {
		t.Fatalf("err = %v, want ErrGateNotBound", err)
	}

	f.BindGate(&stubGate{})
	pair, err := f.CreatePair(1)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}

	// Both sides resolve through the ledger.
	for _, ref := range []domain.VaultRef{pair.Risk.Ref(), pair.Hedge.Ref()} {
		if _, err := ledger.Get(ref); err != nil {
			t.Fatalf("ledger.Get(%s): %v", ref, err)
		}
	}
	if _, err := ledger.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ledger.Get(missing): err = %v, want ErrNotFound", err)
	}
}
