// Package web implements the protocol adapters of spec.md §4.8:
// WebSocket, SSE and a raw-TCP listener, all reading from the same
// broadcast.Bus, plus the HTTP surface of spec.md §6 (/health,
// /metrics, /example.json). Grounded in the teacher's go.mod, whose
// own internal/web package is the gorilla/websocket + chi consumer.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/certstream/certstream-core-go/internal/broadcast"
	"github.com/certstream/certstream-core-go/internal/connection"
	"github.com/certstream/certstream-core-go/internal/metrics"
)

// Server wires the bus, connection manager and protocol adapters
// into one HTTP handler plus a standalone TCP listener.
type Server struct {
	bus  *broadcast.Bus
	conn *connection.Manager

	mu          sync.Mutex
	exampleJSON []byte
}

// NewServer creates a Server reading from bus and admitting
// connections through conn.
func NewServer(bus *broadcast.Bus, conn *connection.Manager) *Server {
	return &Server{bus: bus, conn: conn}
}

// SetExampleCert stores entry as the example served at GET
// /example.json (spec.md §6). The teacher samples one out of every
// 1000 processed entries for this purpose.
func (s *Server) SetExampleCert(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exampleJSON = raw
}

// Handler builds the chi router for the HTTP surface of spec.md §6.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/", requireBearerAuth(s.websocketHandler("lite")))
	r.Get("/full-stream", requireBearerAuth(s.websocketHandler("full")))
	r.Get("/domains-only", requireBearerAuth(s.websocketHandler("domains")))
	r.Get("/sse", requireBearerAuth(s.sseHandler))
	r.Get("/health", s.healthHandler)
	r.Get("/metrics", s.metricsHandler)
	r.Get("/example.json", s.exampleHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	metrics.WritePrometheus(w)
}

func (s *Server) exampleHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	example := s.exampleJSON
	s.mu.Unlock()

	if example == nil {
		http.Error(w, "no example available yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(example)
}

// clientIP extracts the remote address for per-IP admission (spec.md
// §4.7), preferring the connection's own address over headers that a
// client could spoof.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// variantPayload picks the full, lite or domains payload of a
// message.Triple by variant name, defaulting to lite.
func variantPayload(variant string, full, lite, domains []byte) []byte {
	switch variant {
	case "full":
		return full
	case "domains":
		return domains
	default:
		return lite
	}
}

// ServeTCP runs the raw-TCP listener of spec.md §4.8 until ctx is
// cancelled. It blocks.
func (s *Server) ServeTCP(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Printf("TCP listener on %s\n", addr)

	for {
		c, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}

			log.Printf("WARN: tcp: accept failed: %s\n", acceptErr)
			continue
		}

		go s.handleTCPConn(ctx, c)
	}
}

