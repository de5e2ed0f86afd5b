// Worker implements the per-log fetch loop described in spec.md §4.3:
// tree-head discovery, batched entry retrieval, retry with backoff,
// and the circuit breaker. Adapted from the teacher's ct-watcher.go
// worker/runWorker, replacing the opaque scanner.Scanner with a
// direct STH + GetRawEntries loop so the circuit breaker and partial-
// batch cursor advancement spec.md §4.3 requires are representable.
package certificatetransparency

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"

	"github.com/certstream/certstream-core-go/internal/broadcast"
	"github.com/certstream/certstream-core-go/internal/certstream"
	"github.com/certstream/certstream-core-go/internal/config"
	"github.com/certstream/certstream-core-go/internal/cursor"
	"github.com/certstream/certstream-core-go/internal/message"
)

var userAgent = fmt.Sprintf("certstream-core-go/%s", config.Version)

// logClient is the subset of client.LogClient the worker uses,
// mirroring the LogClient interface the pack's own CT scanner defines
// around the same library so a fake can stand in for tests.
type logClient interface {
	GetSTH(ctx context.Context) (*ct.SignedTreeHead, error)
	GetRawEntries(ctx context.Context, start, end int64) (*ct.GetEntriesResponse, error)
}

// Worker polls a single CtLog and publishes decoded entries to the
// broadcast bus in strictly increasing index order (spec.md §4.3
// "Ordering").
type Worker struct {
	Log    CtLog
	store  *cursor.Store
	bus    *broadcast.Bus
	health *Health

	builder *message.Builder
	client  logClient
}

// NewWorker builds a Worker for one log. Construction never fails;
// the underlying jsonclient is (re)created lazily in Run so a bad URL
// only affects this one worker's restart loop (spec.md §7 "Panic
// anywhere in a log worker").
func NewWorker(l CtLog, store *cursor.Store, bus *broadcast.Bus) *Worker {
	cfg := config.AppConfig()

	source := certstream.Source{
		Name:          l.Name,
		URL:           l.URL,
		Operator:      l.Operator,
		NormalizedURL: normalizeCtlogURL(l.URL),
	}

	return &Worker{
		Log:     l,
		store:   store,
		bus:     bus,
		health:  NewHealth(cfg.CTLogs.CircuitBreaker.UnhealthyThreshold, cfg.CTLogs.CircuitBreaker.HealthyThreshold),
		builder: message.NewBuilder(source),
	}
}

// Run executes the worker's fetch loop until ctx is cancelled. It
// always returns nil on clean cancellation; any other return is a
// bug that the supervisor logs and restarts from (spec.md §7).
func (w *Worker) Run(ctx context.Context) error {
	cfg := config.AppConfig()

	hc := &http.Client{Timeout: time.Duration(cfg.CTLogs.RequestTimeoutSecs) * time.Second}

	jc, err := client.New(w.Log.URL, hc, jsonclient.Options{UserAgent: userAgent})
	if err != nil {
		return fmt.Errorf("create client for %s: %w", w.Log.URL, err)
	}

	w.client = jc

	next, ok := w.store.Get(w.Log.ID)

	for {
		select {
		case <-ctx.Done():
			w.store.Flush()
			return nil
		default:
		}

		probing := w.health.State() == Open
		if probing {
			if !w.waitForProbeWindow(ctx) {
				return nil
			}
		}

		var sth *ct.SignedTreeHead
		var sthErr error
		if probing {
			// An Open circuit is probed with one request, no retries.
			sth, sthErr = w.client.GetSTH(ctx)
		} else {
			sth, sthErr = w.fetchSTH(ctx)
		}
		if sthErr != nil {
			if errors.Is(sthErr, context.Canceled) {
				return nil
			}

			w.recordFailure(sthErr)
			if !w.sleep(ctx, w.backoffOnFailure()) {
				return nil
			}

			continue
		}

		if !ok {
			// First run for this log: start from the current tree
			// size, not zero, to avoid a multi-day backfill storm
			// (spec.md §4.2).
			next = sth.TreeSize
			ok = true
		}

		if sth.TreeSize <= next {
			w.recordSuccessIfProbing()

			if !w.sleep(ctx, time.Duration(cfg.CTLogs.PollIntervalMs)*time.Millisecond) {
				return nil
			}

			continue
		}

		advanced, fetchErr := w.fetchBatch(ctx, next, sth.TreeSize)
		next += advanced

		if advanced > 0 {
			w.store.Advance(w.Log.ID, next)
		}

		if fetchErr != nil {
			w.recordFailure(fetchErr)

			if !w.sleep(ctx, w.backoffOnFailure()) {
				return nil
			}

			continue
		}

		w.health.RecordSuccess()
	}
}

// fetchBatch fetches and processes up to batch_size entries starting
// at next. It returns the number of entries successfully advanced
// past, which may be fewer than requested: "a partial batch that
// succeeded for indices [n, n+k) MUST advance the cursor to n+k even
// if the remainder failed" (spec.md §4.3).
func (w *Worker) fetchBatch(ctx context.Context, next, treeSize uint64) (uint64, error) {
	cfg := config.AppConfig()

	end := next + uint64(cfg.CTLogs.BatchSize)
	if end > treeSize {
		end = treeSize
	}

	retryCfg := retryConfig{
		maxAttempts:  cfg.CTLogs.Retry.MaxAttempts,
		initialDelay: time.Duration(cfg.CTLogs.Retry.InitialDelayMs) * time.Millisecond,
		maxDelay:     time.Duration(cfg.CTLogs.Retry.MaxDelayMs) * time.Millisecond,
	}

	var resp *ct.GetEntriesResponse

	err := withRetry(ctx, retryCfg, func() error {
		var innerErr error
		resp, innerErr = w.client.GetRawEntries(ctx, int64(next), int64(end)-1)
		return innerErr
	})
	if err != nil {
		return 0, fmt.Errorf("get-entries [%d,%d): %w", next, end, err)
	}

	for i, leafEntry := range resp.Entries {
		index := int64(next) + int64(i)

		rawEntry, convErr := ct.RawLogEntryFromLeaf(index, &leafEntry)
		if convErr != nil {
			log.Printf("WARN: worker %s: could not wrap leaf entry %d: %s\n", w.Log.URL, index, convErr)
			continue
		}

		w.emit(rawEntry, index)
	}

	return uint64(len(resp.Entries)), nil
}

// emit decodes one raw entry and publishes it to the bus. A decode
// error is logged at WARN and the entry skipped - the cursor still
// advances past it via fetchBatch's len(resp.Entries) count (spec.md
// §4.4, §7).
func (w *Worker) emit(rawEntry *ct.RawLogEntry, index int64) {
	dec, err := decodeEntry(rawEntry)
	if err != nil {
		log.Printf("WARN: worker %s: skipping entry %d: %s\n", w.Log.URL, index, err)
		return
	}

	triple := w.builder.Build(dec.updateType(), dec.leaf, dec.chain, index)
	w.bus.Publish(triple)
}

func (w *Worker) fetchSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	cfg := config.AppConfig()

	retryCfg := retryConfig{
		maxAttempts:  cfg.CTLogs.Retry.MaxAttempts,
		initialDelay: time.Duration(cfg.CTLogs.Retry.InitialDelayMs) * time.Millisecond,
		maxDelay:     time.Duration(cfg.CTLogs.Retry.MaxDelayMs) * time.Millisecond,
	}

	var sth *ct.SignedTreeHead

	err := withRetry(ctx, retryCfg, func() error {
		var innerErr error
		sth, innerErr = w.client.GetSTH(ctx)
		return innerErr
	})

	return sth, err
}

func (w *Worker) recordFailure(err error) {
	from, to := w.health.RecordFailure()
	if from != to {
		log.Printf("worker %s: circuit %s -> %s (%s)\n", w.Log.URL, from, to, err)
	}
}

func (w *Worker) recordSuccessIfProbing() {
	if w.health.State() != Healthy {
		from, to := w.health.RecordSuccess()
		if from != to {
			log.Printf("worker %s: circuit %s -> %s\n", w.Log.URL, from, to)
		}
	}
}

func (w *Worker) backoffOnFailure() time.Duration {
	cfg := config.AppConfig()
	return time.Duration(cfg.CTLogs.Retry.MaxDelayMs) * time.Millisecond
}

// waitForProbeWindow suspends polling for health_check_interval_secs
// while the circuit is Open, then returns true to let the caller
// issue a single probe request (spec.md §4.3). It returns false if
// ctx is cancelled during the wait.
func (w *Worker) waitForProbeWindow(ctx context.Context) bool {
	cfg := config.AppConfig()
	return w.sleep(ctx, time.Duration(cfg.CTLogs.CircuitBreaker.HealthCheckIntervalSecs)*time.Second)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
