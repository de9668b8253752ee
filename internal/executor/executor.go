package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/registry"
)

// RiskChecker gates a trade. ReadReserve may perform I/O and is called
// before the pair is locked; Check runs under the pair lock.
type RiskChecker interface {
	ReadReserve(ctx context.Context, pair domain.TradingPair) domain.ReserveBalance
	Check(pair domain.TradingPair, notional float64, reserve domain.ReserveBalance) domain.RiskCheckResult
}

// Recorder receives every trade outcome the executor produces.
type Recorder interface {
	RecordTrade(ctx context.Context, outcome domain.TradeOutcome)
}

// Config holds executor tuning.
type Config struct {
	// TradeTimeout bounds the quote and submission of one trade.
	TradeTimeout time.Duration
}

// Executor runs one directional swap end to end: risk check, quote,
// submission and accounting. It never returns an error; every failure is
// carried in the returned TradeOutcome.
type Executor struct {
	pairs    *registry.Registry
	risk     RiskChecker
	quotes   domain.QuoteClient
	txs      domain.TransactionExecutor
	recorder Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an Executor. recorder may be nil.
func NewExecutor(
	pairs *registry.Registry,
	risk RiskChecker,
	quotes domain.QuoteClient,
	txs domain.TransactionExecutor,
	recorder Recorder,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = 60 * time.Second
	}
	return &Executor{
		pairs:    pairs,
		risk:     risk,
		quotes:   quotes,
		txs:      txs,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		now:      time.Now,
	}
}

// Execute trades intent.Notional of the pair's base asset in the intent's
// direction. At most one submission is made per call.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (out domain.TradeOutcome) {
	out = domain.TradeOutcome{
		ID:         uuid.New().String(),
		PairID:     intent.PairID,
		Direction:  intent.Direction,
		Notional:   intent.Notional,
		ExecutedAt: e.now().UTC(),
	}
	defer func() {
		if e.recorder != nil {
			e.recorder.RecordTrade(ctx, out)
		}
	}()

	log := e.logger.With(
		slog.String("trade_id", out.ID),
		slog.String("pair", intent.PairID),
		slog.String("direction", string(intent.Direction)),
		slog.Float64("notional", intent.Notional),
	)

	if math.IsNaN(intent.Notional) || math.IsInf(intent.Notional, 0) {
		return fail(out, fmt.Errorf("%w: notional must be finite", domain.ErrInvalidInput))
	}
	if intent.Direction != domain.DirectionForward && intent.Direction != domain.DirectionReverse {
		return fail(out, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, intent.Direction))
	}

	// 1. Resolve the pair.
	pair, err := e.pairs.Get(intent.PairID)
	if err != nil {
		return fail(out, err)
	}

	// 2. Risk gate. The balance read happens outside the pair lock; the
	// decision and reservation happen inside it.
	reserve := e.risk.ReadReserve(ctx, pair)
	res, check, err := e.pairs.Reserve(pair.ID, intent.Notional, func(p domain.TradingPair) domain.RiskCheckResult {
		return e.risk.Check(p, intent.Notional, reserve)
	})
	if err != nil {
		return fail(out, err)
	}
	if !check.Pass {
		log.WarnContext(ctx, "trade rejected by risk checks",
			slog.Any("violations", check.Violations),
			slog.Float64("remaining_capacity", check.RemainingCapacity),
		)
		out.Violations = check.Violations
		return fail(out, fmt.Errorf("%w: %v", domain.ErrRiskRejected, check.Violations))
	}
	committed := false
	defer func() {
		if !committed {
			res.Release()
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	defer cancel()

	// 3. Quote.
	req := quoteRequest(pair, intent)
	quote, found, err := e.quotes.Quote(tctx, req)
	if errors.Is(err, domain.ErrInvalidInput) {
		// Amounts the venue cannot represent, such as dust below one base unit.
		log.InfoContext(ctx, "quote rejected amount", slog.String("error", err.Error()))
		return fail(out, fmt.Errorf("quote: %w", err))
	}
	if err != nil {
		log.WarnContext(ctx, "quote failed", slog.String("error", err.Error()))
		return fail(out, fmt.Errorf("%w: quote: %v", domain.ErrExecutionFailed, err))
	}
	if !found {
		log.InfoContext(ctx, "no route available")
		return fail(out, fmt.Errorf("%w: %s -> %s", domain.ErrNoRoute, req.Input.Symbol, req.Output.Symbol))
	}

	// 4. Submit. A cancelled context does not retract a transaction that
	// was already sent; whatever the executor reports is what we record.
	sig, err := e.txs.Submit(tctx, quote.Payload)
	if err != nil {
		reason := domain.SubmitReasonOf(err)
		if reason == domain.SubmitRejected && tctx.Err() != nil {
			reason = domain.SubmitTimedOut
		}
		log.WarnContext(ctx, "submission failed",
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return fail(out, fmt.Errorf("%w: %s: %v", domain.ErrExecutionFailed, reason, err))
	}

	// 5. Confirmed: account for it.
	res.Commit()
	committed = true

	out.Success = true
	out.Signature = sig
	out.InputAmount = quote.InputAmount
	out.OutputAmount = quote.OutputAmount
	out.PriceImpactPct = quote.PriceImpactPct
	log.InfoContext(ctx, "trade executed",
		slog.String("signature", sig),
		slog.Float64("input_amount", quote.InputAmount),
		slog.Float64("output_amount", quote.OutputAmount),
	)
	return out
}

// quoteRequest builds the aggregator request for intent. Notional is always
// in the pair's input asset, so the reverse direction fixes the output side.
func quoteRequest(pair domain.TradingPair, intent domain.TradeIntent) domain.QuoteRequest {
	if intent.Direction == domain.DirectionReverse {
		return domain.QuoteRequest{
			Input:       pair.Output,
			Output:      pair.Input,
			Amount:      intent.Notional,
			Mode:        domain.SwapModeExactOut,
			SlippageBps: pair.Limits.MaxSlippageBps,
		}
	}
	return domain.QuoteRequest{
		Input:       pair.Input,
		Output:      pair.Output,
		Amount:      intent.Notional,
		Mode:        domain.SwapModeExactIn,
		SlippageBps: pair.Limits.MaxSlippageBps,
	}
}

func fail(out domain.TradeOutcome, err error) domain.TradeOutcome {
	out.Success = false
	out.Signature = ""
	out.ErrorKind = domain.KindOf(err)
	out.Error = err.Error()
	return out
}
