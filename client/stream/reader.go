// Package stream consumes a storygen SSE stream and turns its frames
// back into protocol events. Frames can arrive split across arbitrary
// read boundaries; the reader carries partial frames forward.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/prompt2story/storygen/domain"
)

// Handler receives each decoded protocol event in stream order.
type Handler func(domain.Event)

// Reader runs one generation request against a storygen server and
// delivers the resulting event stream.
type Reader struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewReader creates a reader for the server at baseURL. The underlying
// HTTP client carries no timeout because the stream is long-lived.
func NewReader(baseURL string) *Reader {
	return &Reader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Run POSTs the request and calls handle for every event until the
// stream ends. It returns nil on clean end-of-stream and
// context.Canceled after Abort.
func (r *Reader) Run(ctx context.Context, req *domain.GenerateRequest, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/generate-stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				frame := buf[:idx]
				buf = buf[idx+2:]
				if ev, ok := decodeFrame(frame); ok {
					handle(ev)
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", readErr)
		}
	}
}

// Abort terminates the network read immediately. Safe to call from any
// goroutine, before or after Run returns.
func (r *Reader) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func decodeFrame(frame []byte) (domain.Event, bool) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] == ':' {
		return domain.Event{}, false
	}
	payload, ok := bytes.CutPrefix(frame, []byte("data:"))
	if !ok {
		return domain.Event{}, false
	}
	var ev domain.Event
	if err := json.Unmarshal(bytes.TrimSpace(payload), &ev); err != nil {
		// Skip malformed frames
		return domain.Event{}, false
	}
	return ev, true
}
