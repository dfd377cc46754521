package handler

import (
	"log/slog"
	"net/http"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// TradesHandler serves settled trades from the closed-trade store.
type TradesHandler struct {
	store  domain.ClosedTradeStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. store may be nil when
// Postgres is disabled; the endpoint then reports 503.
func NewTradesHandler(store domain.ClosedTradeStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListTrades responds with recent settlements, newest first. Supports
// ?symbol= and ?limit= (default 50, max 500).
// GET /api/trades
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history storage is disabled")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	limit := parseLimit(r, 50, 500)

	trades, err := h.store.ListClosedTrades(r.Context(), symbol, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list closed trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if trades == nil {
		trades = []domain.ClosedTrade{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}
