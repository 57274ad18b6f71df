// Package sse implements the server-push progress stream: event framing
// and the per-subscriber tailer that mirrors a job envelope's metadata as
// an ordered, finite event sequence.
package sse

import (
	"fmt"
	"io"
	"net/http"
)

// Event names, in the order a subscriber can observe them. completed and
// error are terminal: at most one appears and it is always last.
const (
	EventSnapshot  = "snapshot"
	EventDelta     = "delta"
	EventHeartbeat = "heartbeat"
	EventCompleted = "completed"
	EventError     = "error"
)

// Event is one SSE frame: a name and a single line of pre-serialized
// data (JSON, or a bare token string for delta).
type Event struct {
	Name string
	Data string
}

// Terminal reports whether no event may follow this one.
func (e Event) Terminal() bool {
	return e.Name == EventCompleted || e.Name == EventError
}

// WriteEvent frames and flushes one event: exactly one event: field, one
// data: line, blank-line terminator.
func WriteEvent(w io.Writer, event Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, event.Data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// SetHeaders applies the response headers a streaming endpoint needs
// before the first frame.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
