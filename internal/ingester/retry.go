package ingester

import (
	"context"
	"log"
	"time"
)

const (
	retryAttempts = 5
	retryBase     = 1 * time.Second
	retryCap      = 30 * time.Second
)

// withRetry runs fn with exponential backoff. Transient source and sink
// errors are retried up to retryAttempts times; the last error is returned
// once attempts are exhausted.
func withRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryBase
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		log.Printf("[retry] %s failed (attempt %d/%d), retrying in %s: %v", op, attempt, retryAttempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
	return err
}
