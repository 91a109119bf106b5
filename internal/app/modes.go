package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberhedge/firemark/internal/keeper"
	"github.com/emberhedge/firemark/internal/server"
	"github.com/emberhedge/firemark/internal/server/handler"
	"github.com/emberhedge/firemark/internal/server/ws"
)

// runServer serves the HTTP and websocket API until the context ends.
func (a *App) runServer(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return clean(g.Wait())
}

// runKeeper runs only the scheduled transition sweeps.
func (a *App) runKeeper(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return clean(g.Wait())
}

// runFull runs the API server and the keeper in one process.
func (a *App) runFull(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps)
	}
	return clean(g.Wait())
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(deps.Service, a.cfg.Mode, startedAt, a.logger),
		Markets: handler.NewMarketHandler(deps.Service, a.logger),
		Oracle:  handler.NewOracleHandler(deps.Service, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	k := keeper.New(deps.Service, deps.LockManager, a.cfg.Keeper.Interval.Duration, a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// clean maps context cancellation to a clean shutdown.
func clean(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
