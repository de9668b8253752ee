package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// StatusService is the part of the bot service the status endpoints use.
type StatusService interface {
	GetStatus(ctx context.Context) domain.BotStatusResponse
	CachedStatus(ctx context.Context) domain.BotStatusResponse
	Enabled() bool
	SetBotEnabled(ctx context.Context, enabled bool)
}

// StatusHandler serves the bot status and the global kill switch.
type StatusHandler struct {
	bot    StatusService
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(bot StatusService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{bot: bot, logger: logHandler(logger, "status")}
}

// GetStatus responds with the bot status. ?cached=1 serves the last cached
// snapshot when one exists.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var st domain.BotStatusResponse
	switch r.URL.Query().Get("cached") {
	case "1", "true":
		st = h.bot.CachedStatus(r.Context())
	default:
		st = h.bot.GetStatus(r.Context())
	}
	writeOK(w, http.StatusOK, "status", st)
}

type setBotEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetEnabled flips the global kill switch.
// PUT /api/bot/enabled
func (h *StatusHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req setBotEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	h.bot.SetBotEnabled(r.Context(), *req.Enabled)
	h.logger.InfoContext(r.Context(), "kill switch updated", slog.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": h.bot.Enabled()})
}
