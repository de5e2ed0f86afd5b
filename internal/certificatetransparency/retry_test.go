package certificatetransparency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/certificate-transparency-go/jsonclient"
)

func rspError(status int) jsonclient.RspError {
	return jsonclient.RspError{StatusCode: status, Err: errors.New("http status error")}
}

func TestClassifyHTTPErrorRetriesOnTooManyRequestsAnd5xx(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		got := classifyHTTPError(rspError(status))

		var nonRetryable *errNonRetryable
		if errors.As(got, &nonRetryable) {
			t.Errorf("classifyHTTPError(status %d) wrapped as non-retryable, want retryable", status)
		}
	}
}

func TestClassifyHTTPErrorTreatsOther4xxAsNonRetryable(t *testing.T) {
	got := classifyHTTPError(rspError(http.StatusNotFound))

	var nonRetryable *errNonRetryable
	if !errors.As(got, &nonRetryable) {
		t.Fatalf("classifyHTTPError(404) = %v, want wrapped as non-retryable", got)
	}
}

func TestClassifyHTTPErrorPassesThroughNonRspErrors(t *testing.T) {
	err := errors.New("boom")

	if got := classifyHTTPError(err); got != err {
		t.Fatalf("classifyHTTPError(plain error) = %v, want unchanged %v", got, err)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := retryConfig{maxAttempts: 3, initialDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}

	attempts := 0
	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return rspError(http.StatusServiceUnavailable)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("withRetry() = %s, want nil", err)
	}

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	cfg := retryConfig{maxAttempts: 5, initialDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}

	attempts := 0
	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		return rspError(http.StatusNotFound)
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retries for a non-retryable error)", attempts)
	}

	if err == nil {
		t.Fatal("withRetry() = nil, want an error")
	}

	var nonRetryable *errNonRetryable
	if errors.As(err, &nonRetryable) {
		t.Fatal("withRetry() returned the wrapper type, want the unwrapped original error")
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := retryConfig{maxAttempts: 3, initialDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}

	attempts := 0
	wantErr := rspError(http.StatusServiceUnavailable)

	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		return wantErr
	})

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	if err == nil || err.Error() != wantErr.Error() {
		t.Fatalf("withRetry() = %v, want %v", err, wantErr)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	cfg := retryConfig{maxAttempts: 5, initialDelay: time.Hour, maxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := withRetry(ctx, cfg, func() error {
		attempts++
		return rspError(http.StatusServiceUnavailable)
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("withRetry() = %v, want context.Canceled", err)
	}

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (cancelled before the first retry sleep completes)", attempts)
	}
}
