package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/registry"
)

// TradeRunner executes a single trade intent.
type TradeRunner interface {
	Execute(ctx context.Context, intent domain.TradeIntent) domain.TradeOutcome
}

// Ranker orders pairs for a cascade.
type Ranker interface {
	Rank(pairs []domain.TradingPair) []string
}

// CascadeRecorder receives every cascade that reached the running state.
type CascadeRecorder interface {
	RecordCascade(ctx context.Context, outcome domain.CascadeOutcome)
}

// CascadeConfig holds cascade limits.
type CascadeConfig struct {
	MaxDepth int
}

// Cascade chains forward swaps across pairs, feeding each step's output into
// the next step. No pair lock is held across steps.
type Cascade struct {
	trades   TradeRunner
	pairs    *registry.Registry
	ranker   Ranker
	recorder CascadeRecorder
	cfg      CascadeConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewCascade creates a Cascade. recorder may be nil.
func NewCascade(
	trades TradeRunner,
	pairs *registry.Registry,
	ranker Ranker,
	recorder CascadeRecorder,
	cfg CascadeConfig,
	logger *slog.Logger,
) *Cascade {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	return &Cascade{
		trades:   trades,
		pairs:    pairs,
		ranker:   ranker,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "cascade")),
		now:      time.Now,
	}
}

// Run executes plan. Malformed plans fail with domain.ErrInvalidInput or
// domain.ErrInvalidPlan before any step runs and produce no outcome. Once
// running, every step failure is reported in the outcome, never as an error.
func (c *Cascade) Run(ctx context.Context, plan domain.CascadePlan) (domain.CascadeOutcome, error) {
	ids, err := c.resolve(plan)
	if err != nil {
		return domain.CascadeOutcome{}, err
	}

	out := domain.CascadeOutcome{
		ID:            uuid.New().String(),
		State:         domain.CascadeRunning,
		Steps:         make([]domain.CascadeStepResult, 0, len(ids)),
		InitialAmount: plan.InitialAmount,
		StopOnFailure: plan.StopOnFailure,
		StartedAt:     c.now().UTC(),
	}
	log := c.logger.With(slog.String("cascade_id", out.ID))
	log.InfoContext(ctx, "cascade started",
		slog.Any("pairs", ids),
		slog.Float64("initial_amount", plan.InitialAmount),
		slog.Bool("stop_on_failure", plan.StopOnFailure),
	)

	carry := plan.InitialAmount
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			out.State = domain.CascadeAborted
			out.ErrorKind = domain.KindExecutionFailed
			out.Error = fmt.Sprintf("cancelled before step %d: %v", i+1, err)
			break
		}

		outcome := c.trades.Execute(ctx, domain.TradeIntent{
			PairID:    id,
			Direction: domain.DirectionForward,
			Notional:  carry,
		})
		out.Steps = append(out.Steps, domain.CascadeStepResult{
			Step:    i + 1,
			PairID:  id,
			CarryIn: carry,
			Outcome: outcome,
		})

		if outcome.Success {
			carry = outcome.OutputAmount
			continue
		}
		log.WarnContext(ctx, "cascade step failed",
			slog.Int("step", i+1),
			slog.String("pair", id),
			slog.String("error_kind", string(outcome.ErrorKind)),
		)
		if plan.StopOnFailure {
			out.State = domain.CascadeAborted
			out.ErrorKind = outcome.ErrorKind
			out.Error = fmt.Sprintf("step %d (%s) failed: %s", i+1, id, outcome.Error)
			break
		}
	}

	if out.State == domain.CascadeRunning {
		out.State = domain.CascadeCompleted
	}
	completed := c.now().UTC()
	out.CompletedAt = &completed
	out.FinalAmount = carry
	out.TotalProfit = carry - plan.InitialAmount
	out.Success = succeeded(out)

	log.InfoContext(ctx, "cascade finished",
		slog.String("state", string(out.State)),
		slog.Bool("success", out.Success),
		slog.Int("steps", len(out.Steps)),
		slog.Float64("final_amount", out.FinalAmount),
		slog.Float64("total_profit", out.TotalProfit),
	)
	if c.recorder != nil {
		c.recorder.RecordCascade(ctx, out)
	}
	return out, nil
}

// succeeded reports whether the cascade completed with at least one
// successful step and, under stop-on-failure, no failed step.
func succeeded(o domain.CascadeOutcome) bool {
	if o.State != domain.CascadeCompleted {
		return false
	}
	ok, failed := 0, 0
	for _, s := range o.Steps {
		if s.Outcome.Success {
			ok++
		} else {
			failed++
		}
	}
	if ok == 0 {
		return false
	}
	return !o.StopOnFailure || failed == 0
}

// resolve returns the ordered pair IDs the plan will visit.
func (c *Cascade) resolve(plan domain.CascadePlan) ([]string, error) {
	if math.IsNaN(plan.InitialAmount) || math.IsInf(plan.InitialAmount, 0) || plan.InitialAmount <= 0 {
		return nil, fmt.Errorf("cascade: %w: initial amount must be positive", domain.ErrInvalidInput)
	}
	if plan.MaxSteps < 0 {
		return nil, fmt.Errorf("cascade: %w: max steps must not be negative", domain.ErrInvalidInput)
	}

	var ids []string
	if len(plan.PairIDs) > 0 {
		seen := make(map[string]bool, len(plan.PairIDs))
		for _, id := range plan.PairIDs {
			if seen[id] {
				return nil, fmt.Errorf("cascade: %w: pair %q listed twice", domain.ErrInvalidPlan, id)
			}
			seen[id] = true
			p, err := c.pairs.Get(id)
			if err != nil {
				return nil, fmt.Errorf("cascade: %w: unknown pair %q", domain.ErrInvalidPlan, id)
			}
			if !p.Enabled {
				return nil, fmt.Errorf("cascade: %w: pair %q is disabled", domain.ErrInvalidPlan, id)
			}
			ids = append(ids, id)
		}
	} else {
		ids = c.ranker.Rank(c.pairs.AllEnabled())
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("cascade: %w: no enabled pairs", domain.ErrInvalidPlan)
	}

	depth := c.cfg.MaxDepth
	if plan.MaxSteps > 0 && plan.MaxSteps < depth {
		depth = plan.MaxSteps
	}
	if len(ids) > depth {
		ids = ids[:depth]
	}
	return ids, nil
}
