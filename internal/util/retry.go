package util

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks err so RetryWithBackoff gives up immediately instead of
// retrying. The returned error unwraps to err.
func Unrecoverable(err error) error {
	return &unrecoverableError{err: err}
}

type retryAfterError struct {
	err  error
	wait time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter marks err with a server-requested minimum wait before the next
// attempt (e.g. from a Retry-After header). RetryWithBackoff honors the
// larger of this wait and its own computed backoff.
func RetryAfter(err error, wait time.Duration) error {
	return &retryAfterError{err: err, wait: wait}
}

// RetryWithBackoff calls fn up to maxRetries+1 times with exponential backoff
// starting at baseDelay, doubled after each failure. fn receives the current
// attempt number (0-indexed). It should return nil on success. Errors marked
// Unrecoverable stop the retries immediately; errors marked RetryAfter can
// stretch the next delay. If the context is cancelled, RetryWithBackoff
// returns the context error.
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(attempt int) error) error {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		var unrec *unrecoverableError
		if errors.As(lastErr, &unrec) {
			return unrec.err
		}

		// Don't wait after the last attempt
		if attempt == maxRetries {
			break
		}

		// Check context before sleeping
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := baseDelay << attempt
		var ra *retryAfterError
		if errors.As(lastErr, &ra) && ra.wait > backoff {
			backoff = ra.wait
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}
