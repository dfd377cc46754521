package handler

import (
	"net/http"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// QuotesHandler serves the per-source quotes from the latest snapshot.
type QuotesHandler struct {
	snapshots SnapshotSource
}

// NewQuotesHandler creates a QuotesHandler over the given source.
func NewQuotesHandler(snapshots SnapshotSource) *QuotesHandler {
	return &QuotesHandler{snapshots: snapshots}
}

// GetQuotes responds with the quotes the engine saw on the last tick.
// GET /api/quotes
func (h *QuotesHandler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Snapshot()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no tick completed yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    snap.Symbol,
		"quotes":    snap.Quotes,
		"timestamp": snap.Timestamp,
	})
}

// OpportunitiesHandler serves the scored legs from the latest snapshot.
type OpportunitiesHandler struct {
	snapshots SnapshotSource
}

// NewOpportunitiesHandler creates an OpportunitiesHandler over the given
// source.
func NewOpportunitiesHandler(snapshots SnapshotSource) *OpportunitiesHandler {
	return &OpportunitiesHandler{snapshots: snapshots}
}

// GetOpportunities responds with the last tick's legs in evaluation
// order. ?profitable=true keeps only legs above the open threshold.
// GET /api/opportunities
func (h *OpportunitiesHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Snapshot()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no tick completed yet")
		return
	}

	legs := snap.Opportunities
	if r.URL.Query().Get("profitable") == "true" {
		filtered := make([]domain.Opportunity, 0, len(legs))
		for _, o := range legs {
			if o.IsProfitable {
				filtered = append(filtered, o)
			}
		}
		legs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":        snap.Symbol,
		"opportunities": legs,
		"timestamp":     snap.Timestamp,
	})
}
