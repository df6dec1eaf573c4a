// Package sse frames job events as Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"modelgen/internal/generation"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("sse: streaming unsupported")

const (
	EventProgress = "progress"
	EventError    = "error"
	EventDone     = "done"
)

// Writer writes one frame at a time and flushes after each, so a terminal
// frame is never coalesced with an earlier one.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the stream headers and commits the response.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	// Streams outlive the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes a frame. An empty event omits the event line; multi-line data
// is split across data lines.
func (s *Writer) Send(event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	if len(data) == 0 {
		buf.WriteString("data:\n")
	} else {
		for _, line := range bytes.Split(data, []byte("\n")) {
			buf.WriteString("data: ")
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendJSON marshals v as the frame data.
func (s *Writer) SendJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(event, data)
}

// Done writes the closing frame of a finite stream.
func (s *Writer) Done() error {
	return s.Send(EventDone, nil)
}

// Emit maps orchestrator events onto progress and error frames.
func (s *Writer) Emit(ev generation.Event) error {
	event := EventProgress
	if ev.Type == generation.EventError {
		event = EventError
	}
	return s.SendJSON(event, ev.Job)
}
