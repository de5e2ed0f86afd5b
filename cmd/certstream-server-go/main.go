// Command certstream-server-go wires the core components together:
// registry, cursor store, supervisor, broadcast bus, connection
// manager and the HTTP/TCP protocol adapters (spec.md §2). Loading
// configuration from YAML/environment and watching it for hot reload
// are external collaborators (spec.md §1); main only installs the
// parsed defaults and reacts to OS shutdown signals.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certstream/certstream-core-go/internal/broadcast"
	"github.com/certstream/certstream-core-go/internal/certificatetransparency"
	"github.com/certstream/certstream-core-go/internal/config"
	"github.com/certstream/certstream-core-go/internal/connection"
	"github.com/certstream/certstream-core-go/internal/cursor"
	"github.com/certstream/certstream-core-go/internal/supervisor"
	"github.com/certstream/certstream-core-go/internal/web"
)

func main() {
	cfg := config.Default()
	config.Set(cfg)

	store := cursor.NewStore(cfg.CTLogs.StateFile, time.Duration(cfg.CTLogs.CheckpointInterval)*time.Second, cfg.CTLogs.CheckpointEntries)
	bus := broadcast.New(cfg.Bus.BufferSize)
	connManager := connection.NewManager(cfg.Conn.MaxConnections, cfg.Conn.PerIPLimit)
	registry := certificatetransparency.NewRegistry()
	super := supervisor.New(registry, store, bus)
	srv := web.NewServer(bus, connManager)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runExampleSampler(ctx, bus, srv)

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := super.Run(ctx); err != nil {
			log.Printf("ERROR: supervisor exited: %s\n", err)
		}
	}()

	httpAddr := fmt.Sprintf("%s:%d", cfg.General.Host, cfg.General.Port)
	httpServer := &http.Server{Addr: httpAddr, Handler: srv.Handler()}

	go func() {
		log.Printf("HTTP listening on %s\n", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: http server: %s\n", err)
		}
	}()

	tcpAddr := fmt.Sprintf("%s:%d", cfg.General.Host, cfg.General.TCPPort)
	go func() {
		if err := srv.ServeTCP(ctx, tcpAddr); err != nil {
			log.Printf("ERROR: tcp listener: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: http server shutdown: %s\n", err)
	}

	// Wait for every log worker to finish its in-flight batch and exit
	// before the final flush, so no in-flight cursor advance is lost
	// (spec.md §5, steps 2 and 5).
	<-supervisorDone
	store.Flush()
	log.Println("shutdown complete")
}

// runExampleSampler subscribes to the bus and stores every 1000th
// message as the GET /example.json response, matching the teacher's
// certHandler sampling cadence.
func runExampleSampler(ctx context.Context, bus *broadcast.Bus, srv *web.Server) {
	sub := bus.Subscribe()

	var count int64
	for {
		t, err := sub.Read(ctx)
		if err != nil {
			return
		}

		count++
		if count%1000 == 0 {
			srv.SetExampleCert(t.Full)
		}
	}
}
