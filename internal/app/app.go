package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emberhedge/firemark/internal/config"
)

// App owns the process lifecycle: it wires dependencies, runs the mode the
// configuration selects and tears everything down when the context ends.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	cleanup func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires the configured dependencies and blocks until the context is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.cleanup = cleanup

	a.logger.Info("application wired",
		"mode", a.cfg.Mode,
		"markets_restored", len(deps.Service.ListMarkets(ctx)),
		"s3_enabled", a.cfg.S3.Enabled,
		"signer_loaded", deps.Signer != nil,
	)

	switch a.cfg.Mode {
	case config.ModeServer:
		return a.runServer(ctx, deps)
	case config.ModeKeeper:
		return a.runKeeper(ctx, deps)
	case config.ModeFull:
		return a.runFull(ctx, deps)
	default:
		return fmt.Errorf("app: unknown mode %q", a.cfg.Mode)
	}
}

// Close releases wired resources. Safe to call after a failed Run.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
