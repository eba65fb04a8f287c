package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"grantradar/internal/middleware"
	pipeline "grantradar/internal/search"
	"grantradar/internal/stream"
)

// Searcher runs the search pipeline, reporting progress through the session.
type Searcher interface {
	Search(ctx context.Context, req pipeline.Requirement, sess *stream.Session) error
}

type Handler struct {
	svc               Searcher
	keepaliveInterval time.Duration
}

func NewHandler(svc Searcher) *Handler {
	return &Handler{svc: svc, keepaliveInterval: 15 * time.Second}
}

// Stream runs a search and streams progress frames over SSE. Requirement
// validation failures surface as error frames inside the stream, not as
// HTTP errors: once the stream opens the status code is already sent.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pipeline.Requirement
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "request body is not valid JSON", http.StatusBadRequest)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The session runs on the search goroutine; frames cross to the
	// response writer through the channel so only this goroutine touches it.
	events := make(chan stream.Event, 16)
	sess := stream.NewSession(func(e stream.Event) error {
		select {
		case events <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer close(events)
		if err := h.svc.Search(ctx, req, sess); err != nil {
			var partial *pipeline.PartialEvaluationFailure
			if errors.As(err, &partial) {
				slog.WarnContext(ctx, "search completed with evaluation failures",
					"failed", partial.Failed, "total", partial.Total)
				return
			}
			// The session already carried the error frame to the client.
			slog.ErrorContext(ctx, "search failed", "error", err)
		}
	}()

	ticker := time.NewTicker(h.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Send(e); err != nil {
				slog.WarnContext(ctx, "failed to write stream frame", "error", err)
				return
			}
		case <-ticker.C:
			if err := sse.Keepalive(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
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
