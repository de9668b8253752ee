package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/pipeline"
	"github.com/alanyoungcy/cascadebot/internal/server"
	"github.com/alanyoungcy/cascadebot/internal/server/handler"
	"github.com/alanyoungcy/cascadebot/internal/server/ws"
)

// TradeMode runs the engine and the HTTP API. The automatic cascade runs too
// when autocascade.enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, eng *Engine) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Bot.Run(ctx)
	})

	if a.cfg.AutoCascade.Enabled {
		auto := a.newAutoCascade(deps, eng)
		g.Go(func() error {
			return pipeline.NewOrchestrator(auto, nil, "", a.logger).Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// MonitorMode serves the read-only HTTP API. Nothing trades; status comes
// from the shared cache when a trading instance publishes one.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, eng *Engine) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// AutoCascadeMode is trade mode with the cascade scheduler always on.
func (a *App) AutoCascadeMode(ctx context.Context, deps *Dependencies, eng *Engine) error {
	a.logger.InfoContext(ctx, "starting autocascade mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Bot.Run(ctx)
	})

	auto := a.newAutoCascade(deps, eng)
	g.Go(func() error {
		return pipeline.NewOrchestrator(auto, nil, "", a.logger).Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// FullMode runs everything: the engine, the cascade scheduler, the history
// archiver and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, eng *Engine) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Bot.Run(ctx)
	})

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
	} else {
		a.logger.WarnContext(ctx, "full mode: archiver disabled (requires postgres and s3)")
	}
	orch := pipeline.NewOrchestrator(a.newAutoCascade(deps, eng), archiver, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

func (a *App) newAutoCascade(deps *Dependencies, eng *Engine) *pipeline.AutoCascade {
	ac := a.cfg.AutoCascade
	plan := domain.CascadePlan{
		InitialAmount: ac.InitialAmount,
		PairIDs:       ac.PairIDs,
		MaxSteps:      ac.MaxSteps,
		StopOnFailure: ac.StopOnFailure,
	}
	return pipeline.NewAutoCascade(eng.Bot, deps.LockManager, plan, ac.Interval.Duration, a.logger)
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled. Monitor mode gets the read-only route set.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *Engine) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(eng.Bot, a.logger),
		Trade:   handler.NewTradeHandler(eng.Bot, a.logger),
		Pairs:   handler.NewPairHandler(eng.Bot, a.logger),
		Cascade: handler.NewCascadeHandler(eng.Bot, eng.History, a.logger),
		History: handler.NewHistoryHandler(eng.History, deps.AuditStore, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	var extras server.Extras
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
		extras.Recorder = deps.Metrics
	}
	if deps.RateLimiter != nil {
		extras.Limiter = deps.RateLimiter
	}
	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Status:         eng.Bot.CachedStatus,
		})
		extras.Hub = hub
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		ReadOnly:        !a.cfg.Trades(),
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, extras, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.Bool("read_only", !a.cfg.Trades()),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
