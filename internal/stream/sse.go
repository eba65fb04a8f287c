package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// SSEWriter serialises events as server-sent-event frames. Not safe for
// concurrent use; wrap writes in a Session or channel fan-in.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Send(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Keepalive writes a comment frame to hold idle proxies open.
func (s *SSEWriter) Keepalive() error {
	if _, err := fmt.Fprintf(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
