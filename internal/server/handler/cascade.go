package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// CascadeService executes cascade plans.
type CascadeService interface {
	ExecuteCascade(ctx context.Context, plan domain.CascadePlan) domain.CascadeOutcome
}

// CascadeLookup finds past cascades by ID.
type CascadeLookup interface {
	Cascade(ctx context.Context, id string) (domain.CascadeOutcome, error)
}

// CascadeHandler serves the cascade endpoints.
type CascadeHandler struct {
	cascades CascadeService
	lookup   CascadeLookup
	logger   *slog.Logger
}

// NewCascadeHandler creates a CascadeHandler. cascades may be nil for
// read-only servers.
func NewCascadeHandler(cascades CascadeService, lookup CascadeLookup, logger *slog.Logger) *CascadeHandler {
	return &CascadeHandler{cascades: cascades, lookup: lookup, logger: logHandler(logger, "cascade")}
}

type cascadeRequest struct {
	InitialAmount float64  `json:"initial_amount"`
	PairIDs       []string `json:"pair_ids" validate:"omitempty,max=32,dive,required,max=64"`
	MaxSteps      int      `json:"max_steps" validate:"gte=0,lte=32"`
	StopOnFailure bool     `json:"stop_on_failure"`
	RequestID     string   `json:"request_id" validate:"max=128"`
}

type cascadeResponse struct {
	Success   bool                  `json:"success"`
	ErrorKind domain.ErrorKind      `json:"error_kind,omitempty"`
	Message   string                `json:"message,omitempty"`
	Cascade   domain.CascadeOutcome `json:"cascade"`
}

// ExecuteCascade runs a cascade plan. A plan that fails before any step runs
// is answered with the status code of its error kind; once steps have run
// the outcome is returned with 200 whatever its success.
// POST /api/cascade
func (h *CascadeHandler) ExecuteCascade(w http.ResponseWriter, r *http.Request) {
	var req cascadeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	out := h.cascades.ExecuteCascade(r.Context(), domain.CascadePlan{
		InitialAmount: req.InitialAmount,
		PairIDs:       req.PairIDs,
		MaxSteps:      req.MaxSteps,
		StopOnFailure: req.StopOnFailure,
		RequestID:     req.RequestID,
	})

	status := http.StatusOK
	if len(out.Steps) == 0 && out.ErrorKind != "" {
		status = statusFor(out.ErrorKind)
	}
	h.logger.InfoContext(r.Context(), "cascade request finished",
		slog.String("cascade", out.ID),
		slog.String("state", string(out.State)),
		slog.Bool("success", out.Success),
		slog.Int("steps", len(out.Steps)),
	)
	writeJSON(w, status, cascadeResponse{
		Success:   out.Success,
		ErrorKind: out.ErrorKind,
		Message:   out.Error,
		Cascade:   out,
	})
}

// GetCascade returns one cascade from memory or the history store.
// GET /api/cascades/{id}
func (h *CascadeHandler) GetCascade(w http.ResponseWriter, r *http.Request) {
	out, err := h.lookup.Cascade(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, "cascade", out)
}
