package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/me/genq/pkg/model"
)

// handleSSEState streams engine state transitions via Server-Sent
// Events. The first event carries the current snapshot (subscriber
// replay); every transition after that is pushed as an update.
// GET /api/v1/sse/state
func (s *Server) handleSSEState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Buffered so a slow client never blocks the engine's broadcast.
	events := make(chan model.GenerationState, 64)
	unsubscribe := s.engine.Subscribe(func(st model.GenerationState) {
		select {
		case events <- st:
		default:
			// Client too slow; it resyncs from the next event.
		}
	})
	defer unsubscribe()

	// First buffered event is the subscription replay.
	first := true

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-events:
			name := "update"
			if first {
				name = "init"
				first = false
			}
			if err := sendSSEEvent(w, flusher, name, st); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// sendSSEEvent writes one named SSE event with a JSON payload.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
