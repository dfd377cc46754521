package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// ArchivesHandler serves the cold-storage day objects written by the
// archiver: a listing endpoint and a download proxy.
type ArchivesHandler struct {
	reader domain.BlobReader // nil when object storage is disabled
	prefix string
	logger *slog.Logger
}

func NewArchivesHandler(reader domain.BlobReader, prefix string, logger *slog.Logger) *ArchivesHandler {
	return &ArchivesHandler{reader: reader, prefix: prefix, logger: logger}
}

// List handles GET /api/archives.
func (h *ArchivesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is disabled")
		return
	}

	infos, err := h.reader.List(r.Context(), h.prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing archives failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "archive storage unreachable")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"archives": infos,
		"count":    len(infos),
	})
}

// Download handles GET /api/archives/{key...} and streams one archived
// object. Only keys under the archive prefix are served.
func (h *ArchivesHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is disabled")
		return
	}

	key := r.PathValue("key")
	if key == "" || (h.prefix != "" && !strings.HasPrefix(key, h.prefix+"/")) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	body, err := h.reader.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive download failed",
			slog.String("key", key), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "archive storage unreachable")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("key", key), slog.Any("error", err))
	}
}
