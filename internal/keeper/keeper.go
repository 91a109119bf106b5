// Package keeper runs the automation loop that bumps markets along their
// lifecycle: locking Open markets whose event window has started and
// maturing Locked markets whose window has elapsed. The loop is the
// liveness backstop; every transition it drives is also reachable through
// the public API.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
)

// MarketBumper is the slice of the service layer the keeper drives.
// Satisfied by *service.MarketService.
type MarketBumper interface {
	ListMarkets(ctx context.Context) []domain.Market
	LockMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	MatureMarket(ctx context.Context, id domain.MarketID) (engine.Outcome, error)
}

// lockKey serializes keeper sweeps across replicas.
const lockKey = "keeper"

// Keeper periodically sweeps all markets and applies the time-driven
// transitions. When a LockManager is configured, only one replica sweeps at
// a time; the others skip the tick.
type Keeper struct {
	markets  MarketBumper
	locks    domain.LockManager
	interval time.Duration
	lockTTL  time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// New creates a Keeper. locks may be nil for single-replica deployments.
func New(markets MarketBumper, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Keeper {
	return &Keeper{
		markets:  markets,
		locks:    locks,
		interval: interval,
		lockTTL:  2 * interval,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep errors are logged, never fatal; the loop only stops with the
// context.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper starting", slog.Duration("interval", k.interval))

	k.sweep(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.sweep(ctx)
		}
	}
}

// sweep applies the time-driven transitions to every market that is due.
func (k *Keeper) sweep(ctx context.Context) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, lockKey, k.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "sweep skipped, another replica holds the lock")
			return
		}
		if err != nil {
			k.logger.WarnContext(ctx, "sweep lock acquire failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	now := k.clock().Unix()
	var locked, matured int

	for _, m := range k.markets.ListMarkets(ctx) {
		switch {
		case m.State == domain.StateOpen && now >= m.EventStartTime && now <= m.EventEndTime:
			if _, err := k.markets.LockMarket(ctx, m.ID); err != nil {
				k.logger.WarnContext(ctx, "lock bump failed",
					slog.Uint64("market_id", uint64(m.ID)),
					slog.String("error", err.Error()),
				)
				continue
			}
			locked++

		case m.State == domain.StateLocked && now > m.EventEndTime && !m.HasLiquidated:
			if _, err := k.markets.MatureMarket(ctx, m.ID); err != nil {
				k.logger.WarnContext(ctx, "mature bump failed",
					slog.Uint64("market_id", uint64(m.ID)),
					slog.String("error", err.Error()),
				)
				continue
			}
			matured++
		}
	}

	if locked > 0 || matured > 0 {
		k.logger.InfoContext(ctx, "sweep complete",
			slog.Int("locked", locked),
			slog.Int("matured", matured),
		)
	}
}
