package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/prompt2story/storygen/domain"
)

// SSEWriter serializes protocol events onto a long-lived response
// stream. Frames are written and flushed in the exact order they are
// emitted; no reordering or batching happens here.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares the response for streaming: headers that
// disable intermediary buffering, an immediate 200, and a no-op comment
// frame that forces the connection open through buffering layers.
func NewSSEWriter(c echo.Context) (*SSEWriter, error) {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w := &SSEWriter{w: c.Response().Writer, flusher: flusher}
	if _, err := fmt.Fprint(w.w, ": ok\n\n"); err != nil {
		return nil, err
	}
	w.flusher.Flush()
	return w, nil
}

// WriteEvent writes one event as a single delimited frame and flushes.
func (w *SSEWriter) WriteEvent(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
