package handler

import (
	"net/http"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/quotecache"
)

// StatusHandler serves the runtime status line for the dashboard: mode,
// symbol, uptime, ledger counters, and cache counters.
type StatusHandler struct {
	mode       string
	symbol     string
	startedAt  time.Time
	snapshots  SnapshotSource
	cacheStats func() quotecache.Stats
}

// NewStatusHandler creates a StatusHandler. cacheStats may be nil when no
// cache is wired (tests).
func NewStatusHandler(mode, symbol string, startedAt time.Time, snapshots SnapshotSource, cacheStats func() quotecache.Stats) *StatusHandler {
	return &StatusHandler{
		mode:       mode,
		symbol:     symbol,
		startedAt:  startedAt,
		snapshots:  snapshots,
		cacheStats: cacheStats,
	}
}

// GetStatus responds with the current runtime status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"symbol":         h.symbol,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if snap := h.snapshots.Snapshot(); snap != nil {
		body["trading_state"] = snap.TradingState
		body["last_tick"] = snap.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if h.cacheStats != nil {
		body["cache"] = h.cacheStats()
	}
	writeJSON(w, http.StatusOK, body)
}
