package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SSE event names.
const (
	sseEvent     = "event"
	sseResult    = "result"
	sseHeartbeat = "heartbeat"
	sseError     = "error"
)

// handleQueryStream runs a question and forwards every pipeline event as it
// happens. The final event is sent as "result"; the stream then ends.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "Question is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sendEvent := func(eventType string, data any) {
		jsonData, err := json.Marshal(data)
		if err != nil {
			s.log.Error("server: failed to marshal SSE event data", "eventType", eventType, "error", err)
			errorData, _ := json.Marshal(map[string]string{"error": "Failed to serialize event"})
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseError, errorData)
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData)
		flusher.Flush()
	}

	events, wait := s.cfg.Runner.Stream(r.Context(), req.Question)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if _, err := wait(); err != nil {
					sendEvent(sseError, map[string]string{"error": err.Error()})
				}
				return
			}
			if ev.IsFinal {
				sendEvent(sseResult, ev)
			} else {
				sendEvent(sseEvent, ev)
			}
		case <-heartbeat.C:
			sendEvent(sseHeartbeat, map[string]string{"status": "running"})
		}
	}
}
