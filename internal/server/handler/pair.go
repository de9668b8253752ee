package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// PairService manages the trading pair registry.
type PairService interface {
	GetAllPairStatuses() []domain.TradingPairStatusResponse
	GetPairStatus(id string) (domain.TradingPairStatusResponse, error)
	AddTradingPair(ctx context.Context, pc domain.PairConfig) error
	UpdateRank(ctx context.Context, id string, rank int) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	UpdateScore(ctx context.Context, id string, score float64) error
}

// PairHandler serves the trading pair endpoints.
type PairHandler struct {
	pairs  PairService
	logger *slog.Logger
}

// NewPairHandler creates a PairHandler.
func NewPairHandler(pairs PairService, logger *slog.Logger) *PairHandler {
	return &PairHandler{pairs: pairs, logger: logHandler(logger, "pair")}
}

type assetRequest struct {
	Symbol   string `json:"symbol" validate:"required,max=16"`
	Mint     string `json:"mint" validate:"required,min=32,max=44"`
	Decimals int    `json:"decimals" validate:"gte=0,lte=18"`
}

type limitsRequest struct {
	MaxTradeNotional  float64 `json:"max_trade_notional" validate:"gte=0"`
	MaxDailyNotional  float64 `json:"max_daily_notional" validate:"gte=0"`
	MaxSlippageBps    int     `json:"max_slippage_bps" validate:"gte=0,lte=10000"`
	MinBalanceReserve float64 `json:"min_balance_reserve" validate:"gte=0"`
}

type addPairRequest struct {
	ID      string        `json:"id" validate:"required,max=64"`
	Input   assetRequest  `json:"input" validate:"required"`
	Output  assetRequest  `json:"output" validate:"required"`
	Rank    int           `json:"rank" validate:"gte=0"`
	Score   float64       `json:"score"`
	Enabled *bool         `json:"enabled"`
	Limits  limitsRequest `json:"limits"`
}

func (req addPairRequest) config() domain.PairConfig {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return domain.PairConfig{
		ID:      req.ID,
		Input:   domain.Asset(req.Input),
		Output:  domain.Asset(req.Output),
		Rank:    req.Rank,
		Score:   req.Score,
		Enabled: enabled,
		Limits:  domain.RiskLimits(req.Limits),
	}
}

type updateRankRequest struct {
	Rank *int `json:"rank" validate:"required,gte=0"`
}

type setPairEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type updateScoreRequest struct {
	Score *float64 `json:"score" validate:"required"`
}

// ListPairs returns every pair in ranked order.
// GET /api/pairs
func (h *PairHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	pairs := h.pairs.GetAllPairStatuses()
	if pairs == nil {
		pairs = []domain.TradingPairStatusResponse{}
	}
	writeOK(w, http.StatusOK, "pairs", pairs)
}

// GetPair returns one pair.
// GET /api/pairs/{id}
func (h *PairHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	p, err := h.pairs.GetPairStatus(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, "pair", p)
}

// AddPair registers a new pair. Enabled defaults to true.
// POST /api/pairs
func (h *PairHandler) AddPair(w http.ResponseWriter, r *http.Request) {
	var req addPairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.pairs.AddTradingPair(r.Context(), req.config()); err != nil {
		h.logger.WarnContext(r.Context(), "add pair rejected",
			slog.String("pair", req.ID),
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}
	h.respondPair(w, req.ID, http.StatusCreated)
}

// UpdateRank changes a pair's rank.
// PUT /api/pairs/{id}/rank
func (h *PairHandler) UpdateRank(w http.ResponseWriter, r *http.Request) {
	var req updateRankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.pairs.UpdateRank(r.Context(), id, *req.Rank); err != nil {
		writeErr(w, err)
		return
	}
	h.respondPair(w, id, http.StatusOK)
}

// SetEnabled enables or disables a pair.
// PUT /api/pairs/{id}/enabled
func (h *PairHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req setPairEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.pairs.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeErr(w, err)
		return
	}
	h.respondPair(w, id, http.StatusOK)
}

// UpdateScore changes a pair's score.
// PUT /api/pairs/{id}/score
func (h *PairHandler) UpdateScore(w http.ResponseWriter, r *http.Request) {
	var req updateScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.pairs.UpdateScore(r.Context(), id, *req.Score); err != nil {
		writeErr(w, err)
		return
	}
	h.respondPair(w, id, http.StatusOK)
}

func (h *PairHandler) respondPair(w http.ResponseWriter, id string, status int) {
	p, err := h.pairs.GetPairStatus(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, status, "pair", p)
}
