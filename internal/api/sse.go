// ABOUTME: Server-Sent Events plumbing shared by the session and change streams
// ABOUTME: Writes named JSON events and heartbeat comments, flushing after each

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startStream writes the SSE headers. It fails when the writer cannot flush.
func startStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher}, true
}

// send writes one event: <name>\ndata: <json>\n\n frame.
func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// heartbeat writes an SSE comment so proxies and clients notice dead links.
func (s *eventStream) heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
