package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// HistoryService reads trade and cascade history.
type HistoryService interface {
	RecentTrades(n int) []domain.TradeOutcome
	RecentCascades(n int) []domain.CascadeOutcome
	TradeHistory(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error)
}

// HistoryHandler serves trade, cascade and audit history.
type HistoryHandler struct {
	history HistoryService
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. audit may be nil when no
// database is configured.
func NewHistoryHandler(history HistoryService, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, audit: audit, logger: logHandler(logger, "history")}
}

// HasAudit reports whether the audit endpoint can be served.
func (h *HistoryHandler) HasAudit() bool { return h.audit != nil }

// RecentTrades returns the newest trade outcomes.
// GET /api/trades/recent?limit=20
func (h *HistoryHandler) RecentTrades(w http.ResponseWriter, r *http.Request) {
	trades := h.history.RecentTrades(parseLimit(r, defaultRecentLimit, maxRecentLimit))
	if trades == nil {
		trades = []domain.TradeOutcome{}
	}
	writeOK(w, http.StatusOK, "trades", trades)
}

// RecentCascades returns the newest cascade outcomes.
// GET /api/cascades/recent?limit=20
func (h *HistoryHandler) RecentCascades(w http.ResponseWriter, r *http.Request) {
	cascades := h.history.RecentCascades(parseLimit(r, defaultRecentLimit, maxRecentLimit))
	if cascades == nil {
		cascades = []domain.CascadeOutcome{}
	}
	writeOK(w, http.StatusOK, "cascades", cascades)
}

// ListTrades pages through trade history.
// GET /api/trades?pair_id=&since=&until=&limit=50&offset=0
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var err error
	if opts.Since, err = parseTime(r, "since"); err != nil {
		writeErr(w, err)
		return
	}
	if opts.Until, err = parseTime(r, "until"); err != nil {
		writeErr(w, err)
		return
	}

	trades, err := h.history.TradeHistory(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []domain.TradeOutcome{}
	}
	writeOK(w, http.StatusOK, "trades", trades)
}

// ListAudit pages through the audit log.
// GET /api/audit?event=&pair_id=&cascade_id=&since=&until=&limit=50&offset=0
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	f := domain.AuditFilter{
		ListOpts:  parseListOpts(r),
		CascadeID: r.URL.Query().Get("cascade_id"),
	}
	var err error
	if f.Event, err = domain.ParseAuditEvent(r.URL.Query().Get("event")); err != nil {
		writeErr(w, err)
		return
	}
	if f.Since, err = parseTime(r, "since"); err != nil {
		writeErr(w, err)
		return
	}
	if f.Until, err = parseTime(r, "until"); err != nil {
		writeErr(w, err)
		return
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeOK(w, http.StatusOK, "entries", entries)
}

func parseTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrInvalidInput, name)
	}
	return &t, nil
}
