package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/server"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// WorkerMode runs the background jobs only: the expiry sweeper and the
// settlement archiver.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API server and the background jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startWorkers(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			AdminAPIKey:     a.cfg.Server.AdminAPIKey,
			SignatureWindow: a.cfg.Server.SignatureWindow.Duration,
			RateLimit:       a.cfg.Server.RateLimit,
			RateWindow:      a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Clock, deps.Checks, a.logger),
			Markets:  handler.NewMarketHandler(deps.Betting, deps.Clock, a.logger),
			Bets:     handler.NewBetHandler(deps.Betting, a.logger),
			Accounts: handler.NewAccountHandler(deps.Betting, a.logger),
		},
		server.Deps{
			Hub:     hub,
			Metrics: deps.Metrics.Handler(),
			Limiter: deps.RateLimiter,
			Replay:  deps.LockManager,
			Clock:   deps.Clock,
		},
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Lifecycle.SweepEnabled {
		sweeper := service.NewSweeper(
			deps.Betting,
			deps.LockManager,
			a.cfg.Lifecycle.SweepInterval.Duration,
			a.cfg.Lifecycle.SweepBatch,
			a.logger,
		)
		g.Go(func() error {
			return sweeper.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		job := service.NewArchiveJob(
			deps.Archiver,
			deps.LockManager,
			deps.Clock,
			a.cfg.Archive.Retention(),
			deps.Metrics,
			a.logger,
		)
		g.Go(func() error {
			return job.RunCron(ctx, a.cfg.Archive.Cron)
		})
	} else if a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive enabled but no archiver wired")
	}
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
