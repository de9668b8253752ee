package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const autoCascadeLockKey = "autocascade"

// CascadeRunner runs a cascade plan. BotService satisfies it.
type CascadeRunner interface {
	Enabled() bool
	ExecuteCascade(ctx context.Context, plan domain.CascadePlan) domain.CascadeOutcome
}

// AutoCascade runs the configured cascade plan on a fixed interval. With a
// LockManager at most one replica runs a cascade per interval window.
type AutoCascade struct {
	runner   CascadeRunner
	locks    domain.LockManager
	plan     domain.CascadePlan
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAutoCascade creates an AutoCascade. locks may be nil.
func NewAutoCascade(runner CascadeRunner, locks domain.LockManager, plan domain.CascadePlan, interval time.Duration, logger *slog.Logger) *AutoCascade {
	return &AutoCascade{
		runner:   runner,
		locks:    locks,
		plan:     plan,
		interval: interval,
		logger:   logger.With(slog.String("component", "autocascade")),
		now:      time.Now,
	}
}

// RunLoop runs a cascade on every tick until ctx ends. A tick that is still
// running delays the next one rather than overlapping it.
func (a *AutoCascade) RunLoop(ctx context.Context) error {
	a.logger.Info("autocascade started",
		slog.Duration("interval", a.interval),
		slog.Float64("initial_amount", a.plan.InitialAmount),
	)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("autocascade stopped")
			return ctx.Err()
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs at most one cascade and reports whether it ran.
func (a *AutoCascade) Tick(ctx context.Context) bool {
	if !a.runner.Enabled() {
		a.logger.DebugContext(ctx, "autocascade tick skipped, bot disabled")
		return false
	}

	if a.locks != nil {
		// The run lock guards against overlap with a slow cascade elsewhere.
		unlock, ok := a.acquire(ctx, autoCascadeLockKey, 2*a.interval)
		if !ok {
			return false
		}
		defer unlock()

		// The window key is never released; it expires on its own so no
		// other replica claims the same window.
		window := a.now().UnixNano() / int64(a.interval)
		if _, ok := a.acquire(ctx, fmt.Sprintf("%s:%d", autoCascadeLockKey, window), 2*a.interval); !ok {
			return false
		}
	}

	out := a.runner.ExecuteCascade(ctx, a.plan)
	level := slog.LevelInfo
	if !out.Success {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "autocascade finished",
		slog.String("cascade_id", out.ID),
		slog.String("state", string(out.State)),
		slog.Bool("success", out.Success),
		slog.Int("steps", len(out.Steps)),
		slog.Float64("final_amount", out.FinalAmount),
		slog.Float64("profit", out.TotalProfit),
		slog.String("error_kind", string(out.ErrorKind)),
	)
	return true
}

func (a *AutoCascade) acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	unlock, err := a.locks.Acquire(ctx, key, ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.DebugContext(ctx, "autocascade tick skipped, lock held elsewhere", slog.String("key", key))
		return nil, false
	}
	if err != nil {
		a.logger.WarnContext(ctx, "autocascade lock failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	return unlock, true
}
