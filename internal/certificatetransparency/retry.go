package certificatetransparency

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/certificate-transparency-go/jsonclient"
)

// errNonRetryable wraps an error to signal the retry loop should
// stop immediately (spec.md §4.3, §7: "A 4xx other than 429 is
// non-retryable and fails the batch").
type errNonRetryable struct{ err error }

func (e *errNonRetryable) Error() string { return e.err.Error() }
func (e *errNonRetryable) Unwrap() error { return e.err }

func classifyHTTPError(err error) error {
	var rspErr jsonclient.RspError
	if errors.As(err, &rspErr) {
		if rspErr.StatusCode == http.StatusTooManyRequests || rspErr.StatusCode >= 500 {
			return err
		}

		if rspErr.StatusCode >= 400 {
			return &errNonRetryable{err: err}
		}
	}

	return err
}

// retryConfig mirrors spec.md §4.3's retry parameters.
type retryConfig struct {
	maxAttempts    int
	initialDelay   time.Duration
	maxDelay       time.Duration
}

// withRetry runs fn up to cfg.maxAttempts times with full-jitter
// exponential backoff, stopping immediately on a non-retryable error
// (spec.md §4.3).
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	delay := cfg.initialDelay

	var lastErr error

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		classified := classifyHTTPError(err)

		var nonRetryable *errNonRetryable
		if errors.As(classified, &nonRetryable) {
			return nonRetryable.err
		}

		lastErr = err

		if attempt == cfg.maxAttempts {
			break
		}

		jittered := time.Duration(rand.Int63n(int64(delay) + 1)) //nolint:gosec

		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}
	}

	return lastErr
}
