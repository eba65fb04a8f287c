package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"grantradar/internal/middleware"
)

// FeedClient pulls the current snapshot from the agency metadata feed.
type FeedClient interface {
	Fetch(ctx context.Context) ([]RawGrant, error)
}

type RunLister interface {
	List(ctx context.Context, limit int) ([]Run, error)
}

type Handler struct {
	service *Service
	feed    FeedClient
	runs    RunLister
}

func NewHandler(service *Service, feed FeedClient, runs RunLister) *Handler {
	return &Handler{service: service, feed: feed, runs: runs}
}

// Run fetches the feed and reconciles it. force=true bypasses the recency
// skip for new grants.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force := r.URL.Query().Get("force") == "true"

	snapshot, err := h.feed.Fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch grant feed", "error", err)
		h.writeError(ctx, w, "DEPENDENCY_ERROR", "grant feed unavailable", http.StatusBadGateway)
		return
	}

	report, err := h.service.Reconcile(ctx, snapshot, force)
	if err != nil {
		slog.ErrorContext(ctx, "reconciliation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": report}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	runs, err := h.runs.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list runs", http.StatusInternalServerError)
		return
	}

	if runs == nil {
		runs = []Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": runs,
		"meta": map[string]int{"count": len(runs)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
