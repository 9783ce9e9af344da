// Package app provides the top-level application lifecycle for the
// replication gateway. It wires together all dependencies (stores, caches,
// blob storage, the session layer, and the workflow engines), starts both
// quickfix endpoints, and supervises the background loops until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/quickfixgo/quickfix"
	"golang.org/x/sync/errgroup"

	"github.com/quantrail/fixmirror/internal/config"
	"github.com/quantrail/fixmirror/internal/fix"
)

// drainTimeout bounds how long shutdown waits for in-flight handlers.
const drainTimeout = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// drop-copy acceptor and the order-entry initiator, launches the background
// loops, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting gateway",
		slog.String("primary_account", a.cfg.Replication.PrimaryAccount),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	settingsFile, err := os.Open(a.cfg.Fix.SettingsPath)
	if err != nil {
		return fmt.Errorf("app: open fix settings: %w", err)
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		return fmt.Errorf("app: parse fix settings: %w", err)
	}

	fixApp := fix.NewApp(fix.Identity{
		DropCopySenderCompID:   a.cfg.Fix.DropCopySenderCompID,
		DropCopyTargetCompID:   a.cfg.Fix.DropCopyTargetCompID,
		OrderEntrySenderCompID: a.cfg.Fix.OrderEntrySenderCompID,
		LogonUsername:          a.cfg.Fix.LogonUsername,
		LogonPassword:          a.cfg.Fix.LogonPassword,
	}, deps.Registry, deps.Guard, deps.Engine, a.logger)

	// Sequence recovery is handled at the session layer via ResetOnLogon in
	// the settings file; the drop-copy stream is replay-safe through the
	// unique ExecID constraint.
	storeFactory := quickfix.NewMemoryStoreFactory()
	logFactory := quickfix.NewNullLogFactory()

	acceptor, err := quickfix.NewAcceptor(fixApp, storeFactory, settings, logFactory)
	if err != nil {
		return fmt.Errorf("app: build acceptor: %w", err)
	}
	initiator, err := quickfix.NewInitiator(fixApp, storeFactory, settings, logFactory)
	if err != nil {
		return fmt.Errorf("app: build initiator: %w", err)
	}
	deps.Guard.Bind(initiator)

	if err := acceptor.Start(); err != nil {
		return fmt.Errorf("app: start acceptor: %w", err)
	}
	if err := initiator.Start(); err != nil {
		acceptor.Stop()
		return fmt.Errorf("app: start initiator: %w", err)
	}
	a.logger.Info("fix endpoints started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.LocateMonitor.Run(gctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(gctx)
		})
	}
	if interval := a.cfg.Replication.RefreshInterval.Duration; interval > 0 {
		g.Go(func() error {
			return a.refreshLoop(gctx, deps, interval)
		})
	}

	err = g.Wait()

	// Stop inbound traffic first, drain queued work while the order-entry
	// session can still carry outbound messages, then drop the initiator.
	a.logger.Info("stopping gateway")
	acceptor.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if cerr := deps.Engine.Close(drainCtx); cerr != nil {
		a.logger.Warn("engine drain incomplete", slog.String("error", cerr.Error()))
	}
	initiator.Stop()
	deps.Guard.Close()

	return err
}

// refreshLoop reloads reference data on the configured interval so account,
// route, and copy-rule changes take effect without a restart.
func (a *App) refreshLoop(ctx context.Context, deps *Dependencies, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := deps.RefCache.Refresh(ctx); err != nil {
				a.logger.Error("reference data refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
