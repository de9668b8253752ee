package executor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/registry"
	"github.com/alanyoungcy/cascadebot/internal/service"
)

var (
	sol  = domain.Asset{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9}
	usdc = domain.Asset{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6}
	bonk = domain.Asset{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuotes prices every swap at a fixed rate and echoes the route in the
// payload so fakeTxs can fail specific hops.
type fakeQuotes struct {
	mu      sync.Mutex
	rate    float64
	noRoute map[string]bool
	err     error
	reqs    []domain.QuoteRequest
}

func (f *fakeQuotes) Quote(_ context.Context, req domain.QuoteRequest) (domain.Quote, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return domain.Quote{}, false, f.err
	}
	route := req.Input.Symbol + ">" + req.Output.Symbol
	if f.noRoute[route] {
		return domain.Quote{}, false, nil
	}
	q := domain.Quote{Payload: []byte(route), PriceImpactPct: 0.1}
	if req.Mode == domain.SwapModeExactOut {
		q.OutputAmount = req.Amount
		q.InputAmount = req.Amount / f.rate
	} else {
		q.InputAmount = req.Amount
		q.OutputAmount = req.Amount * f.rate
	}
	return q, true, nil
}

func (f *fakeQuotes) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeTxs struct {
	mu       sync.Mutex
	fail     map[string]error
	block    bool
	onSubmit func(route string)
	sent     []string
}

func (f *fakeTxs) Submit(ctx context.Context, payload []byte) (string, error) {
	route := string(payload)
	f.mu.Lock()
	f.sent = append(f.sent, route)
	err := f.fail[route]
	hook := f.onSubmit
	f.mu.Unlock()
	if hook != nil {
		hook(route)
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return "sig-" + route, nil
}

func (f *fakeTxs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeBalances struct {
	amount float64
	err    error
}

func (f fakeBalances) Balance(context.Context, string) (float64, error) {
	return f.amount, f.err
}

type captureRecorder struct {
	mu       sync.Mutex
	trades   []domain.TradeOutcome
	cascades []domain.CascadeOutcome
}

func (c *captureRecorder) RecordTrade(_ context.Context, o domain.TradeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, o)
}

func (c *captureRecorder) RecordCascade(_ context.Context, o domain.CascadeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cascades = append(c.cascades, o)
}

type harness struct {
	pairs    *registry.Registry
	quotes   *fakeQuotes
	txs      *fakeTxs
	recorder *captureRecorder
	exec     *executor.Executor
	cascade  *executor.Cascade
}

func newHarness(t *testing.T, balances domain.BalanceProvider, pairs ...domain.PairConfig) *harness {
	t.Helper()
	h := &harness{
		pairs:    registry.New(registry.Config{}),
		quotes:   &fakeQuotes{rate: 2, noRoute: map[string]bool{}},
		txs:      &fakeTxs{fail: map[string]error{}},
		recorder: &captureRecorder{},
	}
	for _, pc := range pairs {
		if err := h.pairs.Add(pc); err != nil {
			t.Fatalf("add pair %s: %v", pc.ID, err)
		}
	}
	risk := service.NewRiskService(balances, discardLogger())
	h.exec = executor.NewExecutor(h.pairs, risk, h.quotes, h.txs, h.recorder,
		executor.Config{TradeTimeout: time.Second}, discardLogger())
	h.cascade = executor.NewCascade(h.exec, h.pairs, service.NewRanker(), h.recorder,
		executor.CascadeConfig{MaxDepth: 5}, discardLogger())
	return h
}

func pairCfg(id string, in, out domain.Asset, limits domain.RiskLimits) domain.PairConfig {
	return domain.PairConfig{ID: id, Input: in, Output: out, Enabled: true, Limits: limits}
}

var looseLimits = domain.RiskLimits{MaxTradeNotional: 1e6, MaxDailyNotional: 1e7, MaxSlippageBps: 50}

func TestExecuteSuccessCommitsVolume(t *testing.T) {
	h := newHarness(t, nil, pairCfg("SOL-USDC", sol, usdc, looseLimits))

	out := h.exec.Execute(context.Background(), domain.TradeIntent{
		PairID: "SOL-USDC", Direction: domain.DirectionForward, Notional: 3,
	})
	if !out.Success {
		t.Fatalf("trade failed: %+v", out)
	}
	if out.Signature != "sig-SOL>USDC" || out.InputAmount != 3 || out.OutputAmount != 6 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.ErrorKind != "" {
		t.Fatalf("success carries error kind %q", out.ErrorKind)
	}
	p, _ := h.pairs.Get("SOL-USDC")
	if p.DailyVolume != 3 || p.TradeCount != 1 || p.LastTradeAt == nil || p.Reserved != 0 {
		t.Fatalf("counters not committed: %+v", p)
	}
	if len(h.recorder.trades) != 1 || h.recorder.trades[0].ID != out.ID {
		t.Fatalf("recorder got %+v", h.recorder.trades)
	}
	if req := h.quotes.reqs[0]; req.Mode != domain.SwapModeExactIn || req.SlippageBps != 50 {
		t.Fatalf("quote request = %+v", req)
	}
}

func TestExecuteReverseQuotesExactOutOfBase(t *testing.T) {
	h := newHarness(t, nil, pairCfg("SOL-USDC", sol, usdc, looseLimits))

	out := h.exec.Execute(context.Background(), domain.TradeIntent{
		PairID: "SOL-USDC", Direction: domain.DirectionReverse, Notional: 2,
	})
	if !out.Success {
		t.Fatalf("trade failed: %+v", out)
	}
	req := h.quotes.reqs[0]
	if req.Mode != domain.SwapModeExactOut || req.Input.Mint != usdc.Mint || req.Output.Mint != sol.Mint || req.Amount != 2 {
		t.Fatalf("reverse quote request = %+v", req)
	}
	if out.OutputAmount != 2 || out.InputAmount != 1 {
		t.Fatalf("reverse outcome = %+v", out)
	}
	if p, _ := h.pairs.Get("SOL-USDC"); p.DailyVolume != 2 {
		t.Fatalf("reverse trade volume = %v, want notional 2", p.DailyVolume)
	}
}

func TestRiskRejectionMakesNoExternalCalls(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, domain.RiskLimits{MaxTradeNotional: 50, MaxDailyNotional: 100}))

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 60})
	if out.Success || out.ErrorKind != domain.KindRiskRejected {
		t.Fatalf("outcome = %+v", out)
	}
	if !slices.Equal(out.Violations, []string{domain.ViolationTradeCap}) {
		t.Fatalf("violations = %v", out.Violations)
	}
	if h.quotes.calls() != 0 || h.txs.calls() != 0 {
		t.Fatalf("external calls made: quotes=%d submits=%d", h.quotes.calls(), h.txs.calls())
	}
	p, _ := h.pairs.Get("P")
	if p.DailyVolume != 0 || p.TradeCount != 0 || p.Reserved != 0 {
		t.Fatalf("rejection changed counters: %+v", p)
	}
}

func TestNonPositiveNotionalIsRiskRejected(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 0})
	if out.ErrorKind != domain.KindRiskRejected || !slices.Contains(out.Violations, domain.ViolationNonPositive) {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDailyCapScenario(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, domain.RiskLimits{MaxTradeNotional: 50, MaxDailyNotional: 100}))
	ctx := context.Background()

	if out := h.exec.Execute(ctx, domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 40}); !out.Success {
		t.Fatalf("40 should execute: %+v", out)
	}
	if p, _ := h.pairs.Get("P"); p.DailyVolume != 40 {
		t.Fatalf("volume = %v, want 40", p.DailyVolume)
	}

	risk := service.NewRiskService(nil, discardLogger())
	p, _ := h.pairs.Get("P")
	res := risk.Evaluate(ctx, p, 65)
	if res.Pass || !slices.Contains(res.Violations, domain.ViolationDailyCap) {
		t.Fatalf("evaluate 65 = %+v", res)
	}
	if res.RemainingCapacity != 60 {
		t.Fatalf("remaining = %v, want 60", res.RemainingCapacity)
	}
}

func TestNoRouteReleasesReservation(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	h.quotes.noRoute["SOL>USDC"] = true

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 5})
	if out.Success || out.ErrorKind != domain.KindNoRoute {
		t.Fatalf("outcome = %+v", out)
	}
	if h.txs.calls() != 0 {
		t.Fatal("submitted without a route")
	}
	p, _ := h.pairs.Get("P")
	if p.DailyVolume != 0 || p.Reserved != 0 {
		t.Fatalf("counters changed: %+v", p)
	}
}

func TestQuoteTransportErrorIsExecutionFailure(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	h.quotes.err = errors.New("connection reset")

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 5})
	if out.ErrorKind != domain.KindExecutionFailed {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestQuoteAmountRejectionIsInvalidInput(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	h.quotes.err = fmt.Errorf("jupiter: %w: amount 1e-12 is below one base unit", domain.ErrInvalidInput)

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 5})
	if out.Success || out.ErrorKind != domain.KindInvalidInput {
		t.Fatalf("outcome = %+v", out)
	}
	if h.txs.calls() != 0 {
		t.Fatalf("submits = %d, want 0", h.txs.calls())
	}
	p, _ := h.pairs.Get("P")
	if p.DailyVolume != 0 || p.Reserved != 0 {
		t.Fatalf("counters changed: %+v", p)
	}
}

func TestSubmitFailureLeavesCountersUntouched(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	h.txs.fail["SOL>USDC"] = &domain.SubmitError{Reason: domain.SubmitSimulationFailed, Err: errors.New("slippage exceeded")}

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 5})
	if out.Success || out.ErrorKind != domain.KindExecutionFailed || out.Signature != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if h.txs.calls() != 1 {
		t.Fatalf("submits = %d, want exactly 1", h.txs.calls())
	}
	p, _ := h.pairs.Get("P")
	if p.DailyVolume != 0 || p.TradeCount != 0 || p.Reserved != 0 {
		t.Fatalf("counters changed: %+v", p)
	}
}

func TestSubmitTimeout(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, looseLimits))
	h.txs.block = true
	h.exec = executor.NewExecutor(h.pairs, service.NewRiskService(nil, discardLogger()), h.quotes, h.txs, nil,
		executor.Config{TradeTimeout: 20 * time.Millisecond}, discardLogger())

	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 5})
	if out.ErrorKind != domain.KindExecutionFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.Contains(out.Error, string(domain.SubmitTimedOut)) {
		t.Fatalf("error %q does not mention timeout", out.Error)
	}
	if p, _ := h.pairs.Get("P"); p.Reserved != 0 || p.DailyVolume != 0 {
		t.Fatalf("counters changed: %+v", p)
	}
}

func TestUnknownPairIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "missing", Direction: domain.DirectionForward, Notional: 1})
	if out.ErrorKind != domain.KindNotFound {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestReserveRuleUsesBalanceProvider(t *testing.T) {
	limits := looseLimits
	limits.MinBalanceReserve = 0.5

	h := newHarness(t, fakeBalances{amount: 0.1}, pairCfg("P", sol, usdc, limits))
	out := h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 1})
	if !slices.Equal(out.Violations, []string{domain.ViolationReserve}) {
		t.Fatalf("violations = %v", out.Violations)
	}

	h = newHarness(t, fakeBalances{err: errors.New("rpc down")}, pairCfg("P", sol, usdc, limits))
	out = h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 1})
	if !slices.Equal(out.Violations, []string{domain.ViolationReserveUnknown}) {
		t.Fatalf("violations = %v", out.Violations)
	}
	if h.quotes.calls() != 0 {
		t.Fatal("quoted despite unknown reserve")
	}
}

func TestConcurrentTradesNeverExceedDailyCap(t *testing.T) {
	h := newHarness(t, nil, pairCfg("P", sol, usdc, domain.RiskLimits{MaxTradeNotional: 10, MaxDailyNotional: 95}))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.exec.Execute(context.Background(), domain.TradeIntent{PairID: "P", Direction: domain.DirectionForward, Notional: 10})
		}()
	}
	wg.Wait()

	p, _ := h.pairs.Get("P")
	if p.DailyVolume > p.Limits.MaxDailyNotional {
		t.Fatalf("daily volume %v exceeds cap %v", p.DailyVolume, p.Limits.MaxDailyNotional)
	}
	if p.TradeCount != 9 {
		t.Fatalf("trade count = %d, want 9", p.TradeCount)
	}
	if h.txs.calls() != 9 {
		t.Fatalf("submits = %d, want 9", h.txs.calls())
	}
}
