package grant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"grantradar/internal/middleware"
)

// LastRunProvider reports when the most recent reconciliation run finished.
type LastRunProvider interface {
	LastRunAt(ctx context.Context) (*time.Time, error)
}

type Handler struct {
	repo Repository
	runs LastRunProvider
}

func NewHandler(repo Repository, runs LastRunProvider) *Handler {
	return &Handler{repo: repo, runs: runs}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	grants, err := h.repo.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list grants", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "failed to list grants", http.StatusInternalServerError)
		return
	}

	// Ensure we return [] instead of null for empty list
	if grants == nil {
		grants = []Grant{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": grants,
		"meta": map[string]int{"count": len(grants)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type StatsResponse struct {
	Grants     int        `json:"grants"`
	OpenGrants int        `json:"open_grants"`
	LastRunAt  *time.Time `json:"last_run_at"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, open, err := h.repo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count grants", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count grants", http.StatusInternalServerError)
		return
	}

	lastRun, err := h.runs.LastRunAt(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read last run", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read last run", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Grants:     total,
		OpenGrants: open,
		LastRunAt:  lastRun,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
