package sse

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrFlushUnsupported is returned when the response writer cannot be
// flushed incrementally, the same check the teacher's transport makes
// before committing to an SSE response.
var ErrFlushUnsupported = errors.New("sse: response writer does not support flushing")

// writer sends SSE-framed events to an http.ResponseWriter, following
// the "event: <type>\ndata: <json>\n\n" wire format, with heartbeats as
// comment lines ": <text>\n".
type writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newWriter(w http.ResponseWriter) (*writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlushUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &writer{w: w, flusher: flusher}, nil
}

func (sw *writer) sendEvent(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *writer) sendHeartbeat(comment string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", comment); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
