package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/server/handler"
)

type stubBot struct {
	trades int
}

func (s *stubBot) GetStatus(context.Context) domain.BotStatusResponse {
	return domain.BotStatusResponse{Mode: "trade"}
}
func (s *stubBot) CachedStatus(ctx context.Context) domain.BotStatusResponse { return s.GetStatus(ctx) }
func (s *stubBot) Enabled() bool { return true }
func (s *stubBot) SetBotEnabled(context.Context, bool) {}

func (s *stubBot) ExecuteTrade(context.Context, domain.TradeRequest) domain.TradeExecutionResponse {
	s.trades++
	return domain.TradeExecutionResponse{Success: true}
}

func (s *stubBot) GetAllPairStatuses() []domain.TradingPairStatusResponse { return nil }
func (s *stubBot) GetPairStatus(id string) (domain.TradingPairStatusResponse, error) {
	return domain.TradingPairStatusResponse{ID: id}, nil
}
func (s *stubBot) AddTradingPair(context.Context, domain.PairConfig) error { return nil }
func (s *stubBot) UpdateRank(context.Context, string, int) error { return nil }
func (s *stubBot) SetEnabled(context.Context, string, bool) error { return nil }
func (s *stubBot) UpdateScore(context.Context, string, float64) error { return nil }
func (s *stubBot) RecentTrades(int) []domain.TradeOutcome { return nil }
func (s *stubBot) RecentCascades(int) []domain.CascadeOutcome { return nil }

func (s *stubBot) ExecuteCascade(context.Context, domain.CascadePlan) domain.CascadeOutcome {
	return domain.CascadeOutcome{Success: true, State: domain.CascadeCompleted}
}

func (s *stubBot) TradeHistory(context.Context, domain.ListOpts) ([]domain.TradeOutcome, error) {
	return nil, nil
}

func (s *stubBot) Cascade(context.Context, string) (domain.CascadeOutcome, error) {
	return domain.CascadeOutcome{}, domain.ErrNotFound
}

func newTestServer(cfg Config) (*Server, *stubBot) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bot := &stubBot{}
	h := Handlers{
		Health:  handler.NewHealthHandler(nil, log),
		Status:  handler.NewStatusHandler(bot, log),
		Trade:   handler.NewTradeHandler(bot, log),
		Pairs:   handler.NewPairHandler(bot, log),
		Cascade: handler.NewCascadeHandler(bot, bot, log),
		History: handler.NewHistoryHandler(bot, nil, log),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
	}
	return NewServer(cfg, h, Extras{}, log), bot
}

func serve(s *Server, method, target, body, key string) int {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Code
}

func TestRoutes(t *testing.T) {
	s, bot := newTestServer(Config{})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/health", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/status", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/pairs/SOL-USDC", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/trades/recent", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/cascades/recent", "", ""))
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/cascades/c1", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/metrics", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/api/trade", `{"amount_sol":1}`, ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/api/cascade", `{"initial_amount":1}`, ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodPut, "/api/pairs/SOL-USDC/rank", `{"rank":1}`, ""))
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/audit", "", ""))
	assert.Equal(t, 1, bot.trades)
}

func TestReadOnlyOmitsMutations(t *testing.T) {
	s, bot := newTestServer(Config{ReadOnly: true})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/pairs", "", ""))
	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/trade"},
		{http.MethodPost, "/api/cascade"},
		{http.MethodPost, "/api/pairs"},
		{http.MethodPut, "/api/pairs/SOL-USDC/rank"},
		{http.MethodPut, "/api/pairs/SOL-USDC/enabled"},
		{http.MethodPut, "/api/bot/enabled"},
	} {
		code := serve(s, r.method, r.path, `{}`, "")
		assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, code, "%s %s", r.method, r.path)
	}
	assert.Zero(t, bot.trades)
}

func TestAPIKeyLeavesHealthAndMetricsOpen(t *testing.T) {
	s, _ := newTestServer(Config{APIKey: "k"})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/health", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/metrics", "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/status", "", ""))
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/status", "", "k"))
}
