// Package sse provides Server-Sent Events utilities for streaming
// responses.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer wraps an http.ResponseWriter for SSE streaming. Not safe for
// concurrent writes; each connection is served by a single goroutine.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets the streaming headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteJSON sends one event as a single "data:" frame carrying the JSON
// encoding of v, and flushes so the client sees it immediately. The
// payload is one line by construction (encoding/json never emits raw
// newlines), so no multi-line splitting is needed.
func (w *Writer) WriteJSON(ctx context.Context, v any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}
