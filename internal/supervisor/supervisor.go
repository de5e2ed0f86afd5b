// Package supervisor owns the lifecycle of per-log workers: it reads
// registry diffs, spawns a goroutine per new CtLog, stops workers for
// logs the registry drops, and restarts a worker 5s after it panics
// or returns an unexpected error (spec.md §7 "Panic anywhere in a log
// worker").
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/certstream/certstream-core-go/internal/broadcast"
	"github.com/certstream/certstream-core-go/internal/certificatetransparency"
	"github.com/certstream/certstream-core-go/internal/config"
	"github.com/certstream/certstream-core-go/internal/cursor"
	"github.com/certstream/certstream-core-go/internal/metrics"
)

const restartDelay = 5 * time.Second

// Supervisor periodically refreshes the log registry and keeps one
// restart-on-failure goroutine running per active CtLog.
type Supervisor struct {
	registry *certificatetransparency.Registry
	store    *cursor.Store
	bus      *broadcast.Bus

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	group   *errgroup.Group
}

// New creates a Supervisor. store and bus are shared across every
// worker it spawns (spec.md §3 "Ownership": the bus and cursor store
// outlive any one worker).
func New(registry *certificatetransparency.Registry, store *cursor.Store, bus *broadcast.Bus) *Supervisor {
	return &Supervisor{
		registry: registry,
		store:    store,
		bus:      bus,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run refreshes the registry immediately, then on the configured
// cadence, spawning/stopping workers on each diff, until ctx is
// cancelled. It blocks until every worker has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(context.Background())
	s.group = group

	if err := certificatetransparency.RefreshCAOwners(); err != nil {
		log.Printf("WARN: supervisor: could not load CA owners: %s\n", err)
	}

	s.refresh(gctx)

	cfg := config.AppConfig()
	interval := time.Duration(cfg.CTLogs.RefreshIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			_ = group.Wait()
			s.store.Flush()
			return nil
		case <-ticker.C:
			s.refresh(gctx)
		}
	}
}

// refresh diffs the registry and spawns/stops workers accordingly
// (spec.md §4.1).
func (s *Supervisor) refresh(ctx context.Context) {
	custom := config.AppConfig().CTLogs.Custom

	added, removed, err := s.registry.Refresh(custom)
	if err != nil {
		log.Printf("ERROR: supervisor: registry refresh failed: %s\n", err)
		return
	}

	s.mu.Lock()
	for _, l := range removed {
		if cancel, ok := s.cancels[l.ID]; ok {
			cancel()
			delete(s.cancels, l.ID)
		}
	}

	for _, l := range added {
		logCopy := l
		workerCtx, cancel := context.WithCancel(ctx)
		s.cancels[l.ID] = cancel

		s.group.Go(func() error {
			s.runWithRestart(workerCtx, logCopy)
			return nil
		})
	}
	count := len(s.cancels)
	s.mu.Unlock()

	metrics.SetCTLogsCount(count)
	log.Printf("supervisor: %d logs added, %d removed, %d active\n", len(added), len(removed), count)
}

// runWithRestart runs one worker, recovering from panics and
// restarting restartDelay after any exit that isn't a clean
// cancellation (spec.md §7).
func (s *Supervisor) runWithRestart(ctx context.Context, l certificatetransparency.CtLog) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !s.runOnce(ctx, l) {
			return
		}

		select {
		case <-time.After(restartDelay):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce runs the worker once, converting a panic into a logged
// error. It returns false if the worker should not be restarted
// because the context was cancelled.
func (s *Supervisor) runOnce(ctx context.Context, l certificatetransparency.CtLog) (shouldRestart bool) {
	shouldRestart = true

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: worker %s panicked: %v\n", l.URL, r)
		}
	}()

	worker := certificatetransparency.NewWorker(l, s.store, s.bus)

	if err := worker.Run(ctx); err != nil {
		log.Printf("ERROR: worker %s exited: %s\n", l.URL, err)
	}

	if ctx.Err() != nil {
		shouldRestart = false
	}

	return shouldRestart
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
}
