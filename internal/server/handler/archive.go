package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// ArchiveHandler lists and downloads archived history files.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

// ListArchives lists archive files, optionally under ?kind=trades|cascades.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
	case "trades", "cascades":
		prefix += kind + "/"
	default:
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "kind must be trades or cascades")
		return
	}

	files, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeOK(w, http.StatusOK, "files", files)
}

// GetArchive streams one archive file as JSON lines.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	p := path.Clean("archive/" + r.PathValue("path"))
	if !strings.HasPrefix(p, "archive/") || !strings.HasSuffix(p, ".jsonl") {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid archive path")
		return
	}

	ok, err := h.blobs.Exists(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, domain.KindNotFound, "archive not found")
		return
	}

	body, err := h.blobs.Get(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(p)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive failed",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}
