package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/emberhedge/firemark/internal/domain"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{domain.EventMarketLiquidated}, discard())
	ctx := context.Background()

	if err := n.Notify(ctx, domain.EventMarketCreated, "created", "x"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if len(s.titles) != 0 {
		t.Fatalf("filtered event was delivered: %v", s.titles)
	}

	if err := n.Notify(ctx, domain.EventMarketLiquidated, "liquidated", "x"); err != nil {
		t.Fatalf("Notify allowed event: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "liquidated" {
		t.Fatalf("delivered = %v", s.titles)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, discard())

	if err := n.Notify(context.Background(), domain.EventMarketMatured, "matured", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 {
		t.Fatalf("delivered = %v", s.titles)
	}
}

func TestTransferDegradedBypassesFilter(t *testing.T) {
	s := &stubSender{name: "stub"}
	// Filter that would reject everything except created events.
	n := NewNotifier([]Sender{s}, []string{domain.EventMarketCreated}, discard())

	err := n.TransferDegraded(context.Background(), 9, errors.New("pool unreachable"))
	if err != nil {
		t.Fatalf("TransferDegraded: %v", err)
	}
	if len(s.titles) != 1 || !strings.Contains(s.titles[0], "market 9") {
		t.Fatalf("delivered = %v", s.titles)
	}
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("webhook down")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v, want combined error naming the failed sender", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("healthy sender skipped, delivered = %v", good.titles)
	}
}
