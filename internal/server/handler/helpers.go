// Package handler contains the HTTP handlers for the dashboard API. All
// endpoints are read-only views over the trader's latest tick snapshot
// and the persisted trade history.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// SnapshotSource yields the most recent tick snapshot, or nil before the
// first tick completes.
type SnapshotSource interface {
	Snapshot() *domain.TickSnapshot
}

// writeJSON marshals v and writes it with the given status code. A
// marshal failure degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads the "limit" query parameter, clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
