package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/registry"
)

type doublingQuotes struct{}

func (doublingQuotes) Quote(_ context.Context, req domain.QuoteRequest) (domain.Quote, bool, error) {
	return domain.Quote{
		InputAmount:  req.Amount,
		OutputAmount: req.Amount * 2,
		Payload:      []byte(req.Input.Symbol + ">" + req.Output.Symbol),
	}, true, nil
}

type countingTxs struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTxs) Submit(context.Context, []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "sig", nil
}

type memAudit struct {
	mu      sync.Mutex
	events  []domain.AuditEvent
	records []domain.AuditRecord
}

func (m *memAudit) Log(_ context.Context, rec domain.AuditRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, rec.Event)
	m.records = append(m.records, rec)
	return nil
}

func (m *memAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

type botFixture struct {
	bot     *BotService
	pairs   *registry.Registry
	txs     *countingTxs
	audit   *memAudit
	history *HistoryService
}

func newBotFixture(t *testing.T, enabled bool) *botFixture {
	t.Helper()
	log := discardLogger()
	pairs := registry.New(registry.Config{
		Defaults: domain.RiskLimits{MaxTradeNotional: 50, MaxDailyNotional: 100, MaxSlippageBps: 50},
	})
	for _, pc := range []domain.PairConfig{
		{ID: "SOL-USDC", Rank: 1, Enabled: true,
			Input:  domain.Asset{Symbol: "SOL", Mint: "sol-mint", Decimals: 9},
			Output: domain.Asset{Symbol: "USDC", Mint: "usdc-mint", Decimals: 6}},
		{ID: "USDC-SOL", Rank: 2, Enabled: true,
			Input:  domain.Asset{Symbol: "USDC", Mint: "usdc-mint", Decimals: 6},
			Output: domain.Asset{Symbol: "SOL", Mint: "sol-mint", Decimals: 9}},
	} {
		if err := pairs.Add(pc); err != nil {
			t.Fatal(err)
		}
	}
	txs := &countingTxs{}
	history := NewHistoryService(16, pairs, log)
	exec := executor.NewExecutor(pairs, NewRiskService(nil, log), doublingQuotes{}, txs, history, executor.Config{}, log)
	cascade := executor.NewCascade(exec, pairs, NewRanker(), history, executor.CascadeConfig{MaxDepth: 4}, log)
	bot := NewBotService(pairs, exec, cascade, nil, history, BotConfig{Mode: "trade", Enabled: enabled}, log)
	audit := &memAudit{}
	bot.SetAudit(audit)
	return &botFixture{bot: bot, pairs: pairs, txs: txs, audit: audit, history: history}
}

func TestExecuteTradeKillSwitch(t *testing.T) {
	f := newBotFixture(t, false)
	ctx := context.Background()

	resp := f.bot.ExecuteTrade(ctx, domain.TradeRequest{Direction: domain.DirectionForward, AmountSol: 1})
	if resp.Success || resp.ErrorKind != domain.KindInvalidInput {
		t.Fatalf("disabled bot: %+v", resp)
	}
	if f.txs.calls != 0 {
		t.Fatal("disabled bot submitted a trade")
	}

	f.bot.SetBotEnabled(ctx, true)
	resp = f.bot.ExecuteTrade(ctx, domain.TradeRequest{Direction: domain.DirectionForward, AmountSol: 1})
	if !resp.Success || resp.Outcome.PairID != "SOL-USDC" {
		t.Fatalf("enabled bot: %+v", resp)
	}
	if len(f.audit.events) != 1 || f.audit.events[0] != domain.AuditBotEnabled {
		t.Fatalf("audit = %v", f.audit.events)
	}
}

func TestExecuteTradeRejectsBadInput(t *testing.T) {
	f := newBotFixture(t, true)
	for _, amt := range []float64{0, -2} {
		resp := f.bot.ExecuteTrade(context.Background(), domain.TradeRequest{AmountSol: amt})
		if resp.Success || resp.ErrorKind != domain.KindInvalidInput {
			t.Fatalf("amount %v: %+v", amt, resp)
		}
	}
	resp := f.bot.ExecuteTrade(context.Background(), domain.TradeRequest{AmountSol: 1, PairID: "NOPE"})
	if resp.ErrorKind != domain.KindNotFound {
		t.Fatalf("unknown pair: %+v", resp)
	}
}

func TestExecuteTradeRequestIDIsIdempotent(t *testing.T) {
	f := newBotFixture(t, true)
	req := domain.TradeRequest{PairID: "SOL-USDC", Direction: domain.DirectionForward, AmountSol: 5, RequestID: "r-1"}

	first := f.bot.ExecuteTrade(context.Background(), req)
	second := f.bot.ExecuteTrade(context.Background(), req)
	if !first.Success || !second.Success || !second.Duplicate {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if first.Outcome.ID != second.Outcome.ID {
		t.Fatal("duplicate request produced a new outcome")
	}
	if f.txs.calls != 1 {
		t.Fatalf("submits = %d, want 1", f.txs.calls)
	}
	if p, _ := f.pairs.Get("SOL-USDC"); p.DailyVolume != 5 {
		t.Fatalf("volume = %v, want 5", p.DailyVolume)
	}
}

func TestAddTradingPairDuplicate(t *testing.T) {
	f := newBotFixture(t, true)
	pc := domain.PairConfig{
		ID:     "SOL-XYZ",
		Input:  domain.Asset{Symbol: "SOL", Mint: "sol-mint", Decimals: 9},
		Output: domain.Asset{Symbol: "XYZ", Mint: "xyz-mint", Decimals: 6},
	}
	if err := f.bot.AddTradingPair(context.Background(), pc); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := f.bot.AddTradingPair(context.Background(), pc)
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("second add: %v", err)
	}
	count := 0
	for _, s := range f.bot.GetAllPairStatuses() {
		if s.ID == "SOL-XYZ" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("found %d pairs with id SOL-XYZ", count)
	}
}

func TestPairUpdatesNotFound(t *testing.T) {
	f := newBotFixture(t, true)
	ctx := context.Background()
	if err := f.bot.UpdateRank(ctx, "NOPE", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateRank: %v", err)
	}
	if err := f.bot.SetEnabled(ctx, "NOPE", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetEnabled: %v", err)
	}
	if _, err := f.bot.GetPairStatus("NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetPairStatus: %v", err)
	}
}

func TestGetPairStatusIsStable(t *testing.T) {
	f := newBotFixture(t, true)
	f.bot.ExecuteTrade(context.Background(), domain.TradeRequest{PairID: "SOL-USDC", AmountSol: 10})

	a, err := f.bot.GetPairStatus("SOL-USDC")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := f.bot.GetPairStatus("SOL-USDC")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("status changed without a trade:\n%+v\n%+v", a, b)
	}
	if a.DailyVolume != 10 || a.RemainingCapacity != 90 || a.TradeCount != 1 {
		t.Fatalf("status = %+v", a)
	}
}

func TestUpdateRankReordersStatuses(t *testing.T) {
	f := newBotFixture(t, true)
	if err := f.bot.UpdateRank(context.Background(), "USDC-SOL", 0); err != nil {
		t.Fatal(err)
	}
	st := f.bot.GetAllPairStatuses()
	if st[0].ID != "USDC-SOL" {
		t.Fatalf("first pair = %s", st[0].ID)
	}
}

func TestExecuteCascadePlanErrorsBecomeOutcomes(t *testing.T) {
	f := newBotFixture(t, true)
	out := f.bot.ExecuteCascade(context.Background(), domain.CascadePlan{InitialAmount: 1, PairIDs: []string{"NOPE"}})
	if out.Success || out.ErrorKind != domain.KindInvalidPlan || len(out.Steps) != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if f.txs.calls != 0 {
		t.Fatal("invalid plan executed a step")
	}

	f.bot.SetBotEnabled(context.Background(), false)
	out = f.bot.ExecuteCascade(context.Background(), domain.CascadePlan{InitialAmount: 1})
	if out.ErrorKind != domain.KindInvalidInput || len(out.Steps) != 0 {
		t.Fatalf("disabled bot outcome = %+v", out)
	}
}

func TestExecuteCascadeRecordsHistory(t *testing.T) {
	f := newBotFixture(t, true)
	out := f.bot.ExecuteCascade(context.Background(), domain.CascadePlan{InitialAmount: 2, RequestID: "c-1"})
	if !out.Success || len(out.Steps) != 2 || out.FinalAmount != 8 {
		t.Fatalf("outcome = %+v", out)
	}
	again := f.bot.ExecuteCascade(context.Background(), domain.CascadePlan{InitialAmount: 2, RequestID: "c-1"})
	if again.ID != out.ID || f.txs.calls != 2 {
		t.Fatalf("repeat request re-ran the cascade: calls=%d", f.txs.calls)
	}
	if got := f.bot.RecentCascades(10); len(got) != 1 || got[0].ID != out.ID {
		t.Fatalf("recent cascades = %+v", got)
	}
	if got := f.bot.RecentTrades(10); len(got) != 2 || got[0].PairID != "USDC-SOL" {
		t.Fatalf("recent trades = %+v", got)
	}
}

func TestAuditRecordsCarryPairAndCascade(t *testing.T) {
	f := newBotFixture(t, true)
	ctx := context.Background()

	if err := f.bot.UpdateRank(ctx, "USDC-SOL", 0); err != nil {
		t.Fatal(err)
	}
	if err := f.bot.SetEnabled(ctx, "SOL-USDC", false); err != nil {
		t.Fatal(err)
	}
	out := f.bot.ExecuteCascade(ctx, domain.CascadePlan{InitialAmount: 1})

	want := []domain.AuditEvent{domain.AuditPairRank, domain.AuditPairEnabled, domain.AuditCascadeRun}
	if len(f.audit.records) != len(want) {
		t.Fatalf("audit = %v, want %v", f.audit.events, want)
	}
	for i, ev := range want {
		if f.audit.records[i].Event != ev {
			t.Fatalf("audit[%d] = %s, want %s", i, f.audit.records[i].Event, ev)
		}
	}
	if f.audit.records[0].PairID != "USDC-SOL" || f.audit.records[1].PairID != "SOL-USDC" {
		t.Fatalf("pair ids = %q, %q", f.audit.records[0].PairID, f.audit.records[1].PairID)
	}
	run := f.audit.records[2]
	if run.CascadeID == "" || run.CascadeID != out.ID {
		t.Fatalf("cascade id = %q, outcome id = %q", run.CascadeID, out.ID)
	}
	if pairs, _ := run.Detail["pairs"].([]string); len(pairs) != 1 || pairs[0] != "USDC-SOL" {
		t.Fatalf("cascade pairs = %v", run.Detail["pairs"])
	}
}

func TestGetStatusTotals(t *testing.T) {
	f := newBotFixture(t, true)
	f.bot.now = func() time.Time { return f.bot.started.Add(90 * time.Second) }
	f.bot.ExecuteTrade(context.Background(), domain.TradeRequest{PairID: "SOL-USDC", AmountSol: 3})
	f.bot.ExecuteTrade(context.Background(), domain.TradeRequest{PairID: "USDC-SOL", AmountSol: 4})

	st := f.bot.GetStatus(context.Background())
	if st.TodayVolume != 7 || st.TodayTradeCount != 2 || st.LastTradeAt == nil {
		t.Fatalf("status = %+v", st)
	}
	if st.PairCount != 2 || st.EnabledPairs != 2 || !st.Enabled || st.UptimeSeconds != 90 {
		t.Fatalf("status = %+v", st)
	}
}
