package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// sseWriter streams Server-Sent Events with JSON payloads. Events are
// flushed individually so clients see tokens as they are generated.
//
// Not safe for concurrent use; a stream belongs to one handler goroutine.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the SSE headers and returns a writer, failing when
// the underlying ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // defeat nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent sends one named event with payload marshaled to JSON.
func (s *sseWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	// JSON marshaling escapes newlines, so the payload is a single data line.
	fmt.Fprintf(&b, "data: %s\n\n", data)

	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeChunk(text string) error {
	return s.writeEvent("chunk", map[string]string{"content": text})
}

func (s *sseWriter) writeSources(sources any) error {
	return s.writeEvent("sources", map[string]any{"sources": sources})
}

func (s *sseWriter) writeDone() error {
	return s.writeEvent("done", map[string]bool{"done": true})
}

func (s *sseWriter) writeSSEError(code, message string) error {
	return s.writeEvent("error", map[string]string{"code": code, "message": message})
}
