package domain

import "context"

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore is the persistent, write-behind mirror of the registry. The
// engine remains the authority over market state; the store exists for
// recovery after restart and for read-side queries.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id MarketID) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByState(ctx context.Context, state MarketState, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// AttestationStore persists the append-only log of proof submissions.
type AttestationStore interface {
	Insert(ctx context.Context, att Attestation) error
	ListByMarket(ctx context.Context, id MarketID, opts ListOpts) ([]Attestation, error)
	CountDegraded(ctx context.Context) (int64, error)
}
