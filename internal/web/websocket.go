package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/certstream/certstream-core-go/internal/connection"
	"github.com/certstream/certstream-core-go/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// websocketHandler returns an http.HandlerFunc serving the given
// stream variant ("full", "lite", "domains") at one of the three
// paths in spec.md §4.8.
func (s *Server) websocketHandler(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		token, err := s.conn.Admit(ip)
		if err != nil {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			token.Release()
			log.Printf("WARN: websocket: upgrade failed: %s\n", err)
			return
		}

		// The admission token is released exactly once, tied to the
		// stream's lifetime rather than the upgrade response - the
		// v1.0.4 fix called out in spec.md §4.7/§9.
		s.serveWebsocket(r.Context(), conn, variant, token)
	}
}

func (s *Server) serveWebsocket(ctx context.Context, conn *websocket.Conn, variant string, token *connection.Token) {
	connID := uuid.NewString()

	defer token.Release()
	defer conn.Close()

	metrics.WSConnected(variant)
	defer metrics.WSDisconnected(variant)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	// Client->server frames are ignored except close/ping (spec.md
	// §4.8); this goroutine just drains them so gorilla processes
	// control frames and detects the close.
	go func() {
		defer cancel()

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	sub := s.bus.Subscribe()
	defer func() {
		if lagged := sub.Lagged(); lagged > 0 {
			log.Printf("websocket %s (%s): disconnected after %d lagged messages\n", connID, variant, lagged)
		}
	}()

	writeCh := make(chan []byte, 1)

	go func() {
		for {
			t, readErr := sub.Read(ctx)
			if readErr != nil {
				return
			}

			select {
			case writeCh <- variantPayload(variant, t.Full, t.Lite, t.Domains):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case payload := <-writeCh:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

			metrics.MessageSent()
		}
	}
}
