package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(t *testing.T, h http.HandlerFunc, method, target, body string, pathValues ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

type fakeBot struct {
	enabled     bool
	cachedCalls int
	trades      []domain.TradeRequest
	tradeResp   domain.TradeExecutionResponse
	pairs       map[string]domain.TradingPairStatusResponse
	plans       []domain.CascadePlan
	cascadeOut  domain.CascadeOutcome
}

func newFakeBot() *fakeBot {
	return &fakeBot{pairs: map[string]domain.TradingPairStatusResponse{
		"SOL-USDC": {ID: "SOL-USDC", Rank: 1, Enabled: true},
	}}
}

func (f *fakeBot) GetStatus(context.Context) domain.BotStatusResponse {
	return domain.BotStatusResponse{Mode: "trade", Enabled: f.enabled}
}

func (f *fakeBot) CachedStatus(ctx context.Context) domain.BotStatusResponse {
	f.cachedCalls++
	return f.GetStatus(ctx)
}

func (f *fakeBot) Enabled() bool { return f.enabled }

func (f *fakeBot) SetBotEnabled(_ context.Context, enabled bool) { f.enabled = enabled }

func (f *fakeBot) ExecuteTrade(_ context.Context, req domain.TradeRequest) domain.TradeExecutionResponse {
	f.trades = append(f.trades, req)
	return f.tradeResp
}

func (f *fakeBot) GetAllPairStatuses() []domain.TradingPairStatusResponse {
	out := make([]domain.TradingPairStatusResponse, 0, len(f.pairs))
	for _, p := range f.pairs {
		out = append(out, p)
	}
	return out
}

func (f *fakeBot) GetPairStatus(id string) (domain.TradingPairStatusResponse, error) {
	p, ok := f.pairs[id]
	if !ok {
		return p, fmt.Errorf("registry: pair %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakeBot) AddTradingPair(_ context.Context, pc domain.PairConfig) error {
	if _, ok := f.pairs[pc.ID]; ok {
		return fmt.Errorf("registry: pair %s: %w", pc.ID, domain.ErrDuplicateKey)
	}
	f.pairs[pc.ID] = domain.TradingPairStatusResponse{ID: pc.ID, Rank: pc.Rank, Enabled: pc.Enabled, InputMint: pc.Input.Mint}
	return nil
}

func (f *fakeBot) update(id string, fn func(*domain.TradingPairStatusResponse)) error {
	p, err := f.GetPairStatus(id)
	if err != nil {
		return err
	}
	fn(&p)
	f.pairs[id] = p
	return nil
}

func (f *fakeBot) UpdateRank(_ context.Context, id string, rank int) error {
	return f.update(id, func(p *domain.TradingPairStatusResponse) { p.Rank = rank })
}

func (f *fakeBot) SetEnabled(_ context.Context, id string, enabled bool) error {
	return f.update(id, func(p *domain.TradingPairStatusResponse) { p.Enabled = enabled })
}

func (f *fakeBot) UpdateScore(_ context.Context, id string, score float64) error {
	return f.update(id, func(p *domain.TradingPairStatusResponse) { p.Score = score })
}

func (f *fakeBot) ExecuteCascade(_ context.Context, plan domain.CascadePlan) domain.CascadeOutcome {
	f.plans = append(f.plans, plan)
	return f.cascadeOut
}

func TestHealthReportsFailingChecks(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discard())

	rec, body := do(t, h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unhealthy: redis", body["message"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])

	rec, body = do(t, NewHealthHandler(nil, discard()).HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
}

func TestStatusCachedQuery(t *testing.T) {
	bot := newFakeBot()
	h := NewStatusHandler(bot, discard())

	rec, body := do(t, h.GetStatus, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 0, bot.cachedCalls)

	do(t, h.GetStatus, http.MethodGet, "/api/status?cached=1", "")
	assert.Equal(t, 1, bot.cachedCalls)
}

func TestSetBotEnabled(t *testing.T) {
	bot := newFakeBot()
	h := NewStatusHandler(bot, discard())

	rec, body := do(t, h.SetEnabled, http.MethodPut, "/api/bot/enabled", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error_kind"])
	fields := body["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "enabled", fields[0].(map[string]any)["field"])

	rec, body = do(t, h.SetEnabled, http.MethodPut, "/api/bot/enabled", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"])
	assert.True(t, bot.enabled)
}

func TestExecuteTradeMapsRequest(t *testing.T) {
	bot := newFakeBot()
	bot.tradeResp = domain.TradeExecutionResponse{Success: true, Outcome: domain.TradeOutcome{ID: "t1", PairID: "SOL-USDC"}}
	h := NewTradeHandler(bot, discard())

	rec, body := do(t, h.ExecuteTrade, http.MethodPost, "/api/trade",
		`{"pair_id":"SOL-USDC","direction":"sell","amount_sol":1.5,"request_id":"r-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	require.Len(t, bot.trades, 1)
	assert.Equal(t, domain.TradeRequest{PairID: "SOL-USDC", Direction: domain.DirectionReverse, AmountSol: 1.5, RequestID: "r-1"}, bot.trades[0])

	// Direction defaults to forward.
	do(t, h.ExecuteTrade, http.MethodPost, "/api/trade", `{"amount_sol":2}`)
	require.Len(t, bot.trades, 2)
	assert.Equal(t, domain.DirectionForward, bot.trades[1].Direction)
}

func TestExecuteTradeFailureStatus(t *testing.T) {
	bot := newFakeBot()
	h := NewTradeHandler(bot, discard())

	bot.tradeResp = domain.TradeExecutionResponse{ErrorKind: domain.KindRiskRejected, Message: "exceeds per-trade cap"}
	rec, body := do(t, h.ExecuteTrade, http.MethodPost, "/api/trade", `{"amount_sol":500}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "risk_rejected", body["error_kind"])

	rec, body = do(t, h.ExecuteTrade, http.MethodPost, "/api/trade", `{"amount_sol":1,"direction":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error_kind"])

	rec, _ = do(t, h.ExecuteTrade, http.MethodPost, "/api/trade", `{"amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h.ExecuteTrade, http.MethodPost, "/api/trade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "empty")
	assert.Len(t, bot.trades, 1)
}

func TestAddPair(t *testing.T) {
	bot := newFakeBot()
	h := NewPairHandler(bot, discard())
	body := fmt.Sprintf(`{"id":"USDC-SOL","rank":2,
		"input":{"symbol":"USDC","mint":%q,"decimals":6},
		"output":{"symbol":"SOL","mint":%q,"decimals":9}}`, usdcMint, solMint)

	rec, resp := do(t, h.AddPair, http.MethodPost, "/api/pairs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pair := resp["pair"].(map[string]any)
	assert.Equal(t, "USDC-SOL", pair["id"])
	assert.Equal(t, true, pair["enabled"])

	rec, resp = do(t, h.AddPair, http.MethodPost, "/api/pairs", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_key", resp["error_kind"])
}

func TestAddPairValidation(t *testing.T) {
	h := NewPairHandler(newFakeBot(), discard())
	rec, resp := do(t, h.AddPair, http.MethodPost, "/api/pairs",
		`{"id":"X","input":{"symbol":"A","mint":"short","decimals":6},"output":{"symbol":"B","mint":"short","decimals":40}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var fields []string
	for _, f := range resp["fields"].([]any) {
		fields = append(fields, f.(map[string]any)["field"].(string))
	}
	assert.ElementsMatch(t, []string{"mint", "mint", "decimals"}, fields)
}

func TestPairUpdates(t *testing.T) {
	bot := newFakeBot()
	h := NewPairHandler(bot, discard())

	rec, resp := do(t, h.UpdateRank, http.MethodPut, "/api/pairs/SOL-USDC/rank", `{"rank":5}`, "id", "SOL-USDC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, resp["pair"].(map[string]any)["rank"])

	rec, _ = do(t, h.UpdateRank, http.MethodPut, "/api/pairs/SOL-USDC/rank", `{"rank":-1}`, "id", "SOL-USDC")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = do(t, h.SetEnabled, http.MethodPut, "/api/pairs/NOPE/enabled", `{"enabled":false}`, "id", "NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp["error_kind"])

	rec, _ = do(t, h.UpdateScore, http.MethodPut, "/api/pairs/SOL-USDC/score", `{"score":0}`, "id", "SOL-USDC")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h.GetPair, http.MethodGet, "/api/pairs/NOPE", "", "id", "NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, h.ListPairs, http.MethodGet, "/api/pairs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp["pairs"], 1)
}

func TestExecuteCascadeStatus(t *testing.T) {
	bot := newFakeBot()
	h := NewCascadeHandler(bot, nil, discard())

	bot.cascadeOut = domain.CascadeOutcome{ID: "c1", State: domain.CascadePlanning, ErrorKind: domain.KindInvalidPlan, Error: "unknown pair"}
	rec, resp := do(t, h.ExecuteCascade, http.MethodPost, "/api/cascade", `{"initial_amount":1,"pair_ids":["NOPE"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_plan", resp["error_kind"])

	bot.cascadeOut = domain.CascadeOutcome{
		ID: "c2", State: domain.CascadeAborted, StopOnFailure: true,
		Steps: []domain.CascadeStepResult{{Step: 0, PairID: "SOL-USDC", Outcome: domain.TradeOutcome{ErrorKind: domain.KindNoRoute}}},
		ErrorKind: domain.KindNoRoute,
	}
	rec, resp = do(t, h.ExecuteCascade, http.MethodPost, "/api/cascade", `{"initial_amount":1,"stop_on_failure":true,"max_steps":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "c2", resp["cascade"].(map[string]any)["id"])
	require.Len(t, bot.plans, 2)
	assert.Equal(t, domain.CascadePlan{InitialAmount: 1, MaxSteps: 3, StopOnFailure: true}, bot.plans[1])

	rec, _ = do(t, h.ExecuteCascade, http.MethodPost, "/api/cascade", `{"initial_amount":1,"max_steps":99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, bot.plans, 2)
}

type fakeHistory struct {
	limits    []int
	opts      domain.ListOpts
	cascades  map[string]domain.CascadeOutcome
	listError error
}

func (f *fakeHistory) RecentTrades(n int) []domain.TradeOutcome {
	f.limits = append(f.limits, n)
	return nil
}

func (f *fakeHistory) RecentCascades(n int) []domain.CascadeOutcome {
	f.limits = append(f.limits, n)
	return []domain.CascadeOutcome{{ID: "c1"}}
}

func (f *fakeHistory) TradeHistory(_ context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	f.opts = opts
	return []domain.TradeOutcome{{ID: "t1"}}, f.listError
}

func (f *fakeHistory) Cascade(_ context.Context, id string) (domain.CascadeOutcome, error) {
	o, ok := f.cascades[id]
	if !ok {
		return o, domain.ErrNotFound
	}
	return o, nil
}

func TestRecentHistoryLimits(t *testing.T) {
	hist := &fakeHistory{}
	h := NewHistoryHandler(hist, nil, discard())
	assert.False(t, h.HasAudit())

	rec, resp := do(t, h.RecentTrades, http.MethodGet, "/api/trades/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, resp["trades"])

	do(t, h.RecentCascades, http.MethodGet, "/api/cascades/recent?limit=9999", "")
	do(t, h.RecentTrades, http.MethodGet, "/api/trades/recent?limit=abc", "")
	assert.Equal(t, []int{defaultRecentLimit, maxRecentLimit, defaultRecentLimit}, hist.limits)
}

func TestListTradesFilters(t *testing.T) {
	hist := &fakeHistory{}
	h := NewHistoryHandler(hist, nil, discard())

	rec, _ := do(t, h.ListTrades, http.MethodGet, "/api/trades?pair_id=SOL-USDC&since=2026-01-02T00:00:00Z&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SOL-USDC", hist.opts.PairID)
	assert.Equal(t, 10, hist.opts.Limit)
	assert.Equal(t, 5, hist.opts.Offset)
	require.NotNil(t, hist.opts.Since)
	assert.True(t, hist.opts.Since.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, hist.opts.Until)

	rec, resp := do(t, h.ListTrades, http.MethodGet, "/api/trades?until=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", resp["error_kind"])

	hist.listError = errors.New("connection reset")
	rec, _ = do(t, h.ListTrades, http.MethodGet, "/api/trades", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetCascade(t *testing.T) {
	h := NewCascadeHandler(nil, &fakeHistory{cascades: map[string]domain.CascadeOutcome{"c1": {ID: "c1"}}}, discard())

	rec, resp := do(t, h.GetCascade, http.MethodGet, "/api/cascades/c1", "", "id", "c1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", resp["cascade"].(map[string]any)["id"])

	rec, _ = do(t, h.GetCascade, http.MethodGet, "/api/cascades/c9", "", "id", "c9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type memAudit struct{ filter domain.AuditFilter }

func (m *memAudit) Log(context.Context, domain.AuditRecord) error { return nil }

func (m *memAudit) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	m.filter = f
	return []domain.AuditEntry{{ID: 1, Event: domain.AuditPairAdded, PairID: "SOL-USDC"}}, nil
}

func TestListAudit(t *testing.T) {
	audit := &memAudit{}
	h := NewHistoryHandler(&fakeHistory{}, audit, discard())
	require.True(t, h.HasAudit())

	rec, resp := do(t, h.ListAudit, http.MethodGet, "/api/audit?limit=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp["entries"], 1)
	assert.Equal(t, 500, audit.filter.Limit)
	entry := resp["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "pair_added", entry["event"])
	assert.Equal(t, "SOL-USDC", entry["pair_id"])

	rec, _ = do(t, h.ListAudit, http.MethodGet,
		"/api/audit?event=cascade_run&cascade_id=c1&pair_id=SOL-USDC&since=2026-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AuditCascadeRun, audit.filter.Event)
	assert.Equal(t, "c1", audit.filter.CascadeID)
	assert.Equal(t, "SOL-USDC", audit.filter.PairID)
	require.NotNil(t, audit.filter.Since)
	assert.Equal(t, 2026, audit.filter.Since.Year())

	rec, _ = do(t, h.ListAudit, http.MethodGet, "/api/audit?event=order_placed", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m[path])), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, v := range m {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

func TestArchives(t *testing.T) {
	blobs := memBlobs{
		"archive/trades/2026-01-01.jsonl":   "{\"id\":\"t1\"}\n",
		"archive/cascades/2026-01-01.jsonl": "{\"id\":\"c1\"}\n",
	}
	h := NewArchiveHandler(blobs, discard())

	rec, resp := do(t, h.ListArchives, http.MethodGet, "/api/archives?kind=trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp["files"], 1)

	rec, _ = do(t, h.ListArchives, http.MethodGet, "/api/archives?kind=orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h.GetArchive, http.MethodGet, "/api/archives/trades/2026-01-01.jsonl", "", "path", "trades/2026-01-01.jsonl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"id\":\"t1\"}\n", rec.Body.String())

	rec, _ = do(t, h.GetArchive, http.MethodGet, "/api/archives/x", "", "path", "../secrets.jsonl")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h.GetArchive, http.MethodGet, "/api/archives/x", "", "path", "trades/2020-01-01.jsonl")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
