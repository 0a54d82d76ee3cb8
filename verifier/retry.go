package verifier

import (
	"context"
	"time"
)

// RetryPolicy controls re-reads of order data that may still be settling.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// StaleMetadataRetry covers the window where an order's invoice number has
// not been populated yet: one re-read after a short wait.
var StaleMetadataRetry = RetryPolicy{Attempts: 2, Delay: 2 * time.Second}

// Until runs fn up to Attempts times, sleeping Delay between attempts, until
// fn reports done or the context is cancelled. The last error is returned
// when all attempts are exhausted.
func (p RetryPolicy) Until(ctx context.Context, fn func() (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		done, err := fn()
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}
