// Package service orchestrates the market engine against the persistence
// and observability layers. The engine's in-memory registry is the
// authority; Postgres is a write-behind mirror, Redis carries caching and
// state-change signals, and S3 archives raw proof blobs. Failures in any of
// those layers are surfaced through logs and alerts but never unwind an
// engine transition.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
	"github.com/emberhedge/firemark/internal/oracle"
)

// AlertSink delivers operator alerts. Satisfied by *notify.Notifier.
type AlertSink interface {
	MarketTransition(ctx context.Context, event string, m domain.Market) error
	TransferDegraded(ctx context.Context, id domain.MarketID, transferErr error) error
}

// MarketService exposes the market lifecycle operations to the transport
// layer and mirrors every transition into the supporting infrastructure.
type MarketService struct {
	engine       *engine.Engine
	markets      domain.MarketStore
	attestations domain.AttestationStore
	cache        domain.StateCache
	bus          domain.SignalBus
	archiver     domain.Archiver
	alerts       AlertSink
	logger       *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// cache, bus, archiver, and alerts may be nil; the corresponding side
// effects are skipped.
func NewMarketService(
	eng *engine.Engine,
	markets domain.MarketStore,
	attestations domain.AttestationStore,
	cache domain.StateCache,
	bus domain.SignalBus,
	archiver domain.Archiver,
	alerts AlertSink,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine:       eng,
		markets:      markets,
		attestations: attestations,
		cache:        cache,
		bus:          bus,
		archiver:     archiver,
		alerts:       alerts,
		logger:       logger.With(slog.String("component", "market_service")),
	}
}

// Restore loads every persisted market, rebuilds the engine registry, and
// writes back the records whose pool references were regenerated. Must run
// before the service accepts traffic.
func (s *MarketService) Restore(ctx context.Context) error {
	var all []domain.Market
	opts := domain.ListOpts{Limit: 500}
	for {
		page, err := s.markets.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("market_service: restore list: %w", err)
		}
		all = append(all, page...)
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}

	if err := s.engine.Restore(all); err != nil {
		return fmt.Errorf("market_service: restore engine: %w", err)
	}

	// Non-terminal markets came back with fresh pool references; persist them.
	for _, m := range s.engine.Registry().List() {
		if m.State.Terminal() {
			continue
		}
		if err := s.markets.Upsert(ctx, m); err != nil {
			return fmt.Errorf("market_service: restore upsert %d: %w", m.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "restored markets", slog.Int("count", len(all)))
	return nil
}

// CreateMarket creates and opens a new market.
func (s *MarketService) CreateMarket(ctx context.Context, startTime, endTime int64, lat, lon domain.Coordinate) (domain.Market, error) {
	m, err := s.engine.CreateMarket(startTime, endTime, lat, lon)
	if err != nil {
		return domain.Market{}, err
	}

	s.mirror(ctx, m, false)
	s.alert(ctx, domain.EventMarketCreated, m)
	return m, nil
}

// LockMarket transitions an Open market to Locked.
func (s *MarketService) LockMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	m, err := s.engine.LockMarket(id)
	if err != nil {
		return domain.Market{}, err
	}

	s.mirror(ctx, m, false)
	s.alert(ctx, domain.EventMarketLocked, m)
	return m, nil
}

// SubmitOracleProof verifies and adjudicates an oracle proof against a
// market. The raw blob is archived and the submission recorded whatever the
// outcome; only accepted submissions that take a branch mutate the market.
func (s *MarketService) SubmitOracleProof(ctx context.Context, id domain.MarketID, blob []byte) (engine.Outcome, error) {
	submittedAt := time.Now().Unix()
	blobHash := oracle.BlobHash(blob)

	out, err := s.engine.SubmitOracleProof(id, blob)

	s.archive(ctx, id, submittedAt, blobHash, blob)
	s.record(ctx, domain.Attestation{
		ID:          uuid.New().String(),
		MarketID:    id,
		BlobHash:    blobHash,
		Payload:     out.Payload,
		Result:      out.Result,
		Degraded:    out.TransferDegraded,
		Error:       errString(err),
		SubmittedAt: submittedAt,
	})

	if err != nil {
		return out, err
	}

	switch out.Result {
	case domain.AdjudicationLiquidated:
		s.finalize(ctx, out, domain.EventMarketLiquidated)
	case domain.AdjudicationMatured:
		s.finalize(ctx, out, domain.EventMarketMatured)
	}
	return out, nil
}

// MatureMarket closes out a Locked market whose event window elapsed without
// a liquidation.
func (s *MarketService) MatureMarket(ctx context.Context, id domain.MarketID) (engine.Outcome, error) {
	out, err := s.engine.MatureMarket(id)
	if err != nil {
		return out, err
	}

	s.finalize(ctx, out, domain.EventMarketMatured)
	return out, nil
}

// GetMarket retrieves a market, checking the cache first and falling back to
// the engine registry on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.engine.Registry().Details(id)
	if err != nil {
		return domain.Market{}, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", uint64(id)),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns all markets from the engine registry, ordered by id.
func (s *MarketService) ListMarkets(_ context.Context) []domain.Market {
	return s.engine.Registry().List()
}

// GetState reports the registry state for a market. Unknown ids report
// StateNotSet rather than an error.
func (s *MarketService) GetState(_ context.Context, id domain.MarketID) domain.MarketState {
	return s.engine.Registry().State(id)
}

// GetVaults returns the vault pair backing a market.
func (s *MarketService) GetVaults(_ context.Context, id domain.MarketID) (domain.VaultPair, error) {
	return s.engine.Registry().Vaults(id)
}

// GetLiquidation reports whether a market has liquidated and when.
func (s *MarketService) GetLiquidation(_ context.Context, id domain.MarketID) (bool, int64, error) {
	return s.engine.Registry().LiquidationState(id)
}

// ListMarketsByState returns persisted markets in the given state, served
// from the store's indexed query.
func (s *MarketService) ListMarketsByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	recs, err := s.markets.ListByState(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets in state %s: %w", state, err)
	}
	return recs, nil
}

// PersistedCount reports how many markets the write-behind mirror holds. A
// gap against the registry count points at missed mirror writes.
func (s *MarketService) PersistedCount(ctx context.Context) (int64, error) {
	n, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count persisted markets: %w", err)
	}
	return n, nil
}

// FetchProofBlob retrieves the raw archived proof blob for a past
// submission, identified by its hash. Returns ErrNotFound when the archive
// is disabled or holds no such blob.
func (s *MarketService) FetchProofBlob(ctx context.Context, id domain.MarketID, blobHash string) ([]byte, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("market_service: proof %s for market %d: archive disabled: %w", blobHash, id, domain.ErrNotFound)
	}
	return s.archiver.FetchProof(ctx, id, blobHash)
}

// ListAttestations returns the submission history for a market, newest
// first.
func (s *MarketService) ListAttestations(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Attestation, error) {
	recs, err := s.attestations.ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list attestations for %d: %w", id, err)
	}
	return recs, nil
}

// DegradedCount reports how many submissions finalized with a failed fund
// transfer. Exposed on the status endpoint for reconciliation monitoring.
func (s *MarketService) DegradedCount(ctx context.Context) (int64, error) {
	n, err := s.attestations.CountDegraded(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count degraded: %w", err)
	}
	return n, nil
}

// finalize runs the post-transition side effects for a terminal outcome.
func (s *MarketService) finalize(ctx context.Context, out engine.Outcome, event string) {
	s.mirror(ctx, out.Market, out.TransferDegraded)
	s.alert(ctx, event, out.Market)

	if out.TransferDegraded {
		s.publishDegraded(ctx, out)
		if s.alerts != nil {
			if err := s.alerts.TransferDegraded(ctx, out.Market.ID, out.TransferErr); err != nil {
				s.logger.ErrorContext(ctx, "degraded alert failed",
					slog.Uint64("market_id", uint64(out.Market.ID)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// mirror writes the market through to Postgres, drops the cached copy, and
// publishes the state change. All three are non-fatal.
func (s *MarketService) mirror(ctx context.Context, m domain.Market, degraded bool) {
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.ErrorContext(ctx, "store upsert failed",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("error", err.Error()),
		)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.Uint64("market_id", uint64(m.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publishTransition(ctx, m, degraded)
}

func (s *MarketService) publishTransition(ctx context.Context, m domain.Market, degraded bool) {
	if s.bus == nil {
		return
	}

	change := domain.StateChange{
		MarketID: m.ID,
		NewState: m.State,
		Degraded: degraded,
		At:       time.Now().Unix(),
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}

	if err := s.bus.Publish(ctx, domain.ChannelMarketState, payload); err != nil {
		s.logger.WarnContext(ctx, "state change publish failed",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTransitions, payload); err != nil {
		s.logger.WarnContext(ctx, "transition stream append failed",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publishDegraded(ctx context.Context, out engine.Outcome) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.StateChange{
		MarketID: out.Market.ID,
		NewState: out.Market.State,
		Degraded: true,
		At:       time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelDegraded, payload); err != nil {
		s.logger.WarnContext(ctx, "degraded publish failed",
			slog.Uint64("market_id", uint64(out.Market.ID)),
			slog.String("error", err.Error()),
		)
	}
}

// archive uploads the raw proof blob, best effort.
func (s *MarketService) archive(ctx context.Context, id domain.MarketID, submittedAt int64, blobHash string, blob []byte) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveProof(ctx, id, submittedAt, blobHash, blob); err != nil {
		s.logger.WarnContext(ctx, "proof archive failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
}

// record appends the submission to the attestation log, best effort.
func (s *MarketService) record(ctx context.Context, rec domain.Attestation) {
	if err := s.attestations.Insert(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "attestation insert failed",
			slog.Uint64("market_id", uint64(rec.MarketID)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) alert(ctx context.Context, event string, m domain.Market) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.MarketTransition(ctx, event, m); err != nil {
		s.logger.WarnContext(ctx, "transition alert failed",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
