package certificatetransparency

import (
	"context"
	"errors"
	"net/http"
	"testing"

	ct "github.com/google/certificate-transparency-go"

	"github.com/certstream/certstream-core-go/internal/broadcast"
	"github.com/certstream/certstream-core-go/internal/config"
	"github.com/certstream/certstream-core-go/internal/cursor"
)

// fakeLogClient implements logClient for tests, returning canned
// responses/errors instead of talking to a real log.
type fakeLogClient struct {
	sth     *ct.SignedTreeHead
	sthErr  error
	sthCalls int

	entries    []ct.LeafEntry
	entriesErr error
	gotStart   int64
	gotEnd     int64
}

func (f *fakeLogClient) GetSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	f.sthCalls++
	return f.sth, f.sthErr
}

func (f *fakeLogClient) GetRawEntries(ctx context.Context, start, end int64) (*ct.GetEntriesResponse, error) {
	f.gotStart, f.gotEnd = start, end
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	return &ct.GetEntriesResponse{Entries: f.entries}, nil
}

func newTestWorker(t *testing.T, fc logClient) *Worker {
	t.Helper()

	config.Set(config.Default())

	store := cursor.NewStore("", 0, 0)
	bus := broadcast.New(16)
	w := NewWorker(CtLog{ID: "test-log", Name: "Test Log", URL: "https://ct.example/log/"}, store, bus)
	w.client = fc

	return w
}

// garbageLeafEntries returns n entries whose LeafInput cannot be
// parsed as a MerkleTreeLeaf, so decodeEntry necessarily fails for
// every one of them.
func garbageLeafEntries(n int) []ct.LeafEntry {
	entries := make([]ct.LeafEntry, n)
	for i := range entries {
		entries[i] = ct.LeafEntry{LeafInput: []byte("not a merkle tree leaf")}
	}
	return entries
}

func TestFetchBatchAdvancesByEntriesActuallyReturned(t *testing.T) {
	// The log only has 2 entries available even though the gap to
	// the tree head is 5 - fetchBatch must advance by exactly what
	// came back, not by what was requested (spec.md §4.3).
	fc := &fakeLogClient{entries: garbageLeafEntries(2)}
	w := newTestWorker(t, fc)

	advanced, err := w.fetchBatch(context.Background(), 0, 5)
	if err != nil {
		t.Fatalf("fetchBatch() error = %s, want nil", err)
	}

	if advanced != 2 {
		t.Fatalf("advanced = %d, want 2", advanced)
	}

	if fc.gotStart != 0 || fc.gotEnd != 4 {
		t.Fatalf("GetRawEntries called with [%d,%d], want [0,4]", fc.gotStart, fc.gotEnd)
	}
}

func TestFetchBatchAdvancesPastUndecodableEntries(t *testing.T) {
	// Every entry in the batch fails to decode; the cursor must still
	// advance past all of them rather than getting stuck replaying
	// the same undecodable range forever (spec.md §4.4, §7).
	fc := &fakeLogClient{entries: garbageLeafEntries(4)}
	w := newTestWorker(t, fc)

	advanced, err := w.fetchBatch(context.Background(), 10, 14)
	if err != nil {
		t.Fatalf("fetchBatch() error = %s, want nil", err)
	}

	if advanced != 4 {
		t.Fatalf("advanced = %d, want 4", advanced)
	}
}

func TestFetchBatchClampsToTreeSize(t *testing.T) {
	fc := &fakeLogClient{entries: garbageLeafEntries(3)}
	w := newTestWorker(t, fc)

	cfg := config.Default()
	cfg.CTLogs.BatchSize = 256
	config.Set(cfg)

	if _, err := w.fetchBatch(context.Background(), 100, 103); err != nil {
		t.Fatalf("fetchBatch() error = %s, want nil", err)
	}

	if fc.gotStart != 100 || fc.gotEnd != 102 {
		t.Fatalf("GetRawEntries called with [%d,%d], want [100,102] (clamped to tree size)", fc.gotStart, fc.gotEnd)
	}
}

func TestFetchBatchReturnsZeroAdvancedOnFetchError(t *testing.T) {
	// A non-retryable 404 from get-entries must not advance the
	// cursor at all.
	fc := &fakeLogClient{entriesErr: rspError(http.StatusNotFound)}
	w := newTestWorker(t, fc)

	advanced, err := w.fetchBatch(context.Background(), 10, 20)
	if err == nil {
		t.Fatal("fetchBatch() error = nil, want non-nil")
	}

	if advanced != 0 {
		t.Fatalf("advanced = %d, want 0", advanced)
	}
}

func TestFetchBatchRetriesTransientFetchErrorThenSucceeds(t *testing.T) {
	calls := 0
	fc := &retryingLogClient{
		fakeLogClient: fakeLogClient{entries: garbageLeafEntries(1)},
		failTimes:     2,
		calls:         &calls,
	}
	w := newTestWorker(t, fc)

	cfg := config.Default()
	cfg.CTLogs.Retry.InitialDelayMs = 1
	cfg.CTLogs.Retry.MaxDelayMs = 2
	config.Set(cfg)

	advanced, err := w.fetchBatch(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("fetchBatch() error = %s, want nil", err)
	}

	if advanced != 1 {
		t.Fatalf("advanced = %d, want 1", advanced)
	}

	if calls != 3 {
		t.Fatalf("GetRawEntries called %d times, want 3 (2 failures + 1 success)", calls)
	}
}

// retryingLogClient fails its first failTimes calls to GetRawEntries
// with a retryable error before delegating to the embedded fake.
type retryingLogClient struct {
	fakeLogClient
	failTimes int
	calls     *int
}

func (r *retryingLogClient) GetRawEntries(ctx context.Context, start, end int64) (*ct.GetEntriesResponse, error) {
	*r.calls++
	if *r.calls <= r.failTimes {
		return nil, rspError(http.StatusServiceUnavailable)
	}
	return r.fakeLogClient.GetRawEntries(ctx, start, end)
}

func TestFetchSTHReturnsLogClientSTH(t *testing.T) {
	want := &ct.SignedTreeHead{TreeSize: 42}
	fc := &fakeLogClient{sth: want}
	w := newTestWorker(t, fc)

	got, err := w.fetchSTH(context.Background())
	if err != nil {
		t.Fatalf("fetchSTH() error = %s, want nil", err)
	}

	if got.TreeSize != want.TreeSize {
		t.Fatalf("fetchSTH() TreeSize = %d, want %d", got.TreeSize, want.TreeSize)
	}
}

func TestFetchSTHPropagatesNonRetryableError(t *testing.T) {
	fc := &fakeLogClient{sthErr: rspError(http.StatusNotFound)}
	w := newTestWorker(t, fc)

	_, err := w.fetchSTH(context.Background())
	if err == nil {
		t.Fatal("fetchSTH() error = nil, want non-nil")
	}

	if fc.sthCalls != 1 {
		t.Fatalf("GetSTH called %d times, want 1 (no retries for a non-retryable error)", fc.sthCalls)
	}
}

func TestFetchSTHRetriesOnContextDeadlineIndependentError(t *testing.T) {
	fc := &fakeLogClient{sthErr: errors.New("connection reset")}
	w := newTestWorker(t, fc)

	cfg := config.Default()
	cfg.CTLogs.Retry.MaxAttempts = 2
	cfg.CTLogs.Retry.InitialDelayMs = 1
	cfg.CTLogs.Retry.MaxDelayMs = 2
	config.Set(cfg)

	_, err := w.fetchSTH(context.Background())
	if err == nil {
		t.Fatal("fetchSTH() error = nil, want non-nil after exhausting retries")
	}

	if fc.sthCalls != 2 {
		t.Fatalf("GetSTH called %d times, want 2 (maxAttempts)", fc.sthCalls)
	}
}
