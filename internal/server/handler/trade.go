package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// TradeService executes single trades.
type TradeService interface {
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) domain.TradeExecutionResponse
}

// TradeHandler serves the manual trade endpoint.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trade")}
}

type tradeRequest struct {
	PairID    string  `json:"pair_id" validate:"max=64"`
	Direction string  `json:"direction" default:"forward" validate:"oneof=forward reverse buy sell"`
	AmountSol float64 `json:"amount_sol"`
	RequestID string  `json:"request_id" validate:"max=128"`
}

// ExecuteTrade runs one trade. Rejections and failures come back as a
// TradeExecutionResponse with success=false and the status code of their
// error kind.
// POST /api/trade
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := h.trades.ExecuteTrade(r.Context(), domain.TradeRequest{
		PairID:    req.PairID,
		Direction: dir,
		AmountSol: req.AmountSol,
		RequestID: req.RequestID,
	})
	if !resp.Success {
		h.logger.WarnContext(r.Context(), "trade not executed",
			slog.String("pair", resp.Outcome.PairID),
			slog.String("error_kind", string(resp.ErrorKind)),
			slog.String("message", resp.Message),
		)
	}
	writeJSON(w, statusFor(resp.ErrorKind), resp)
}
