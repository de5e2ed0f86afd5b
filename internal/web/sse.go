package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/certstream/certstream-core-go/internal/metrics"
)

const sseHeartbeatInterval = 15 * time.Second

// sseHandler serves GET /sse?stream=full|lite|domains (default lite)
// as described in spec.md §4.8: one "data: <json>\n\n" event per
// message, no event ids, a ":\n\n" heartbeat comment every 15s.
func (s *Server) sseHandler(w http.ResponseWriter, r *http.Request) {
	variant := r.URL.Query().Get("stream")
	if variant != "full" && variant != "domains" {
		variant = "lite"
	}

	ip := clientIP(r)

	token, err := s.conn.Admit(ip)
	if err != nil {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer token.Release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEConnected()
	defer metrics.SSEDisconnected()

	ctx := r.Context()
	sub := s.bus.Subscribe()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	readCh := make(chan []byte)
	readErrCh := make(chan error, 1)

	go func() {
		for {
			t, readErr := sub.Read(ctx)
			if readErr != nil {
				readErrCh <- readErr
				return
			}

			select {
			case readCh <- variantPayload(variant, t.Full, t.Lite, t.Domains):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readErrCh:
			return
		case <-heartbeat.C:
			if _, writeErr := fmt.Fprint(w, ":\n\n"); writeErr != nil {
				return
			}
			flusher.Flush()
		case payload := <-readCh:
			if _, writeErr := fmt.Fprintf(w, "data: %s\n\n", payload); writeErr != nil {
				return
			}
			flusher.Flush()
			metrics.MessageSent()
		}
	}
}
