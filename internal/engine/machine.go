// Package engine implements the market state machine: the component that
// governs when pooled funds may move. It enforces the lifecycle
// NotSet -> Open -> Locked -> {Liquidated | Matured}, gates transitions on
// ledger time, and adjudicates markets from verified oracle attestations.
//
// Every mutating operation runs to completion under one mutex, so calls are
// totally ordered and a precondition failure mutates nothing. The engine
// never holds funds itself; terminal transitions trigger a bulk
// transfer-all between the two pools and finalize even when that transfer
// degrades.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberhedge/firemark/internal/domain"
)

// Clock supplies the engine's notion of "now". Injected so tests can drive
// the event window deterministically.
type Clock func() time.Time

// ProofVerifier validates an oracle proof blob and returns its decoded
// payload. Implementations must not mutate anything.
type ProofVerifier interface {
	Verify(blob []byte) (domain.AttestationPayload, error)
}

// Outcome describes the effect one engine operation had on a market.
type Outcome struct {
	Market  domain.Market
	Result  domain.AdjudicationResult
	Payload domain.AttestationPayload

	// TransferDegraded is set when a terminal transition finalized although
	// the pool transfer failed. The transition is never unwound for a
	// degraded transfer; operators are alerted out of band.
	TransferDegraded bool
	TransferErr      error
}

// Engine is the market state machine.
type Engine struct {
	mu       sync.Mutex
	clock    Clock
	verifier ProofVerifier
	factory  *factory
	registry *Registry
	logger   *slog.Logger
}

// New creates an Engine around the given pool factory and proof verifier.
func New(pools PoolFactory, verifier ProofVerifier, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		clock:    clock,
		verifier: verifier,
		factory:  newFactory(pools),
		registry: NewRegistry(),
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Registry exposes the read-only market registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CreateMarket creates a market with its pool pair and opens it. The start
// time must be in the future, the end time after the start, and neither
// coordinate may be zero (zero is the unset sentinel). A rejected creation
// leaves no record and does not consume an id.
func (e *Engine) CreateMarket(startTime, endTime int64, lat, lon domain.Coordinate) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lat == 0 || lon == 0 {
		return domain.Market{}, fmt.Errorf("engine: zero coordinate: %w", domain.ErrInvalidCoordinates)
	}

	now := e.clock().Unix()
	id, pair, err := e.factory.create(now, startTime, endTime)
	if err != nil {
		return domain.Market{}, err
	}

	m := domain.Market{
		ID:             id,
		State:          domain.StateOpen,
		EventStartTime: startTime,
		EventEndTime:   endTime,
		Latitude:       lat,
		Longitude:      lon,
		RiskVault:      pair.risk.Ref(),
		HedgeVault:     pair.hedge.Ref(),
		CreatedAt:      now,
	}
	e.registry.put(m)

	e.logger.Info("market created",
		slog.Uint64("market_id", uint64(id)),
		slog.Int64("event_start", startTime),
		slog.Int64("event_end", endTime),
	)
	return m, nil
}

// LockMarket transitions an Open market to Locked. It is deliberately
// unauthenticated: locking is a pure function of ledger time and stored
// state, so correctness never depends on who calls it.
func (e *Engine) LockMarket(id domain.MarketID) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.registry.get(id)
	if !ok {
		return domain.Market{}, fmt.Errorf("engine: lock market %d: %w", id, domain.ErrMarketNotFound)
	}
	if m.State != domain.StateOpen {
		return domain.Market{}, fmt.Errorf("engine: lock market %d in state %s: %w", id, m.State, domain.ErrInvalidStateTransition)
	}

	now := e.clock().Unix()
	if now < m.EventStartTime {
		return domain.Market{}, fmt.Errorf("engine: lock market %d at %d: %w", id, now, domain.ErrEventNotStartedYet)
	}
	if now > m.EventEndTime {
		return domain.Market{}, fmt.Errorf("engine: lock market %d at %d: %w", id, now, domain.ErrEventAlreadyEnded)
	}

	m.State = domain.StateLocked
	e.registry.put(m)
	e.logger.Info("market locked", slog.Uint64("market_id", uint64(id)))
	return m, nil
}

// SubmitOracleProof is the adjudication entrypoint. The proof is verified
// and decoded first; a proof that fails verification or decoding is a hard
// error and mutates nothing. A verified proof liquidates the market iff its
// coordinates echo the market's stored coordinates exactly, it attests a
// positive occurrence, the market is Locked, and ledger time is inside the
// event window. Failing that, a Locked market past its window matures.
// When neither guard holds the call is a deliberate no-op, so automation
// may submit speculatively and repeatedly.
func (e *Engine) SubmitOracleProof(id domain.MarketID, blob []byte) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.verifier.Verify(blob)
	if err != nil {
		return Outcome{Result: domain.AdjudicationRejected}, err
	}

	m, ok := e.registry.get(id)
	if !ok {
		return Outcome{Result: domain.AdjudicationRejected}, fmt.Errorf("engine: submit proof for market %d: %w", id, domain.ErrMarketNotFound)
	}

	now := e.clock().Unix()

	// Liquidation branch.
	if payload.Matches(m) && payload.Occurred() && m.State == domain.StateLocked && m.InWindow(now) {
		out := Outcome{Result: domain.AdjudicationLiquidated, Payload: payload}

		pair, havePools := e.factory.pair(id)
		if havePools {
			if terr := pair.risk.TransferAllToCounterpart(); terr != nil {
				// The adjudication must finalize even when the fund move
				// degrades. Never unwind; alert out of band.
				out.TransferDegraded = true
				out.TransferErr = terr
				e.logger.Warn("risk pool transfer degraded",
					slog.Uint64("market_id", uint64(id)),
					slog.String("error", terr.Error()),
				)
			}
		}

		m.State = domain.StateLiquidated
		m.HasLiquidated = true
		m.LiquidationTime = now
		e.registry.put(m)
		out.Market = m

		e.logger.Info("market liquidated",
			slog.Uint64("market_id", uint64(id)),
			slog.Int64("liquidation_time", now),
			slog.Bool("degraded", out.TransferDegraded),
		)
		return out, nil
	}

	// Maturation branch.
	if m.State == domain.StateLocked && now > m.EventEndTime && !m.HasLiquidated {
		out := e.mature(m, now)
		out.Payload = payload
		return out, nil
	}

	// Neither guard held: nothing to do yet. Not an error.
	return Outcome{Result: domain.AdjudicationNoOp, Market: m, Payload: payload}, nil
}

// MatureMarket transitions a Locked market past its event window to
// Matured, moving the hedge pool's assets into the risk pool. Unlike the
// maturation branch of SubmitOracleProof, a failed precondition here is
// surfaced to the caller.
func (e *Engine) MatureMarket(id domain.MarketID) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.registry.get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("engine: mature market %d: %w", id, domain.ErrMarketNotFound)
	}

	// The window check comes first: maturation before the event window has
	// elapsed is rejected as premature regardless of the market's state.
	now := e.clock().Unix()
	if now <= m.EventEndTime {
		return Outcome{}, fmt.Errorf("engine: mature market %d at %d: %w", id, now, domain.ErrEventNotEndedYet)
	}
	if m.HasLiquidated {
		return Outcome{}, fmt.Errorf("engine: mature market %d: %w", id, domain.ErrMarketAlreadyLiquidated)
	}
	if m.State != domain.StateLocked {
		return Outcome{}, fmt.Errorf("engine: mature market %d in state %s: %w", id, m.State, domain.ErrInvalidStateTransition)
	}

	return e.mature(m, now), nil
}

// mature performs the maturation effect. Callers hold the engine mutex and
// have already established the guards.
func (e *Engine) mature(m domain.Market, now int64) Outcome {
	out := Outcome{Result: domain.AdjudicationMatured}

	pair, havePools := e.factory.pair(m.ID)
	if havePools {
		if terr := pair.hedge.TransferAllToCounterpart(); terr != nil {
			out.TransferDegraded = true
			out.TransferErr = terr
			e.logger.Warn("hedge pool transfer degraded",
				slog.Uint64("market_id", uint64(m.ID)),
				slog.String("error", terr.Error()),
			)
		}
	}

	m.State = domain.StateMatured
	e.registry.put(m)
	out.Market = m

	e.logger.Info("market matured",
		slog.Uint64("market_id", uint64(m.ID)),
		slog.Bool("degraded", out.TransferDegraded),
	)
	return out
}

// DepositAllowed implements the pool deposit gate: deposits are accepted
// only while the market is Open.
func (e *Engine) DepositAllowed(id domain.MarketID) bool {
	m, err := e.registry.Details(id)
	if err != nil {
		return false
	}
	return m.DepositAllowed()
}

// WithdrawAllowed implements the pool withdrawal gate: withdrawals are
// blocked while the market is Locked so the adjudication outcome cannot be
// front-run.
func (e *Engine) WithdrawAllowed(id domain.MarketID) bool {
	m, err := e.registry.Details(id)
	if err != nil {
		return false
	}
	return m.WithdrawAllowed()
}

// Restore rebuilds the registry and the id counter from persisted records.
// Pool balances live outside the persistence boundary, so markets that are
// not yet terminal get a fresh pool pair and their stored references are
// replaced. Restore must be called before the engine serves traffic.
func (e *Engine) Restore(markets []domain.Market) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range markets {
		var pp poolPair
		if !m.State.Terminal() {
			risk, hedge, err := e.factory.pools.CreatePair(m.ID)
			if err != nil {
				return fmt.Errorf("engine: restore market %d: %w", m.ID, err)
			}
			pp = poolPair{risk: risk, hedge: hedge}
			m.RiskVault = risk.Ref()
			m.HedgeVault = hedge.Ref()
		}
		e.registry.put(m)
		e.factory.observe(m.ID, pp)
	}

	e.logger.Info("engine restored", slog.Int("markets", len(markets)))
	return nil
}
