package backoff

import (
	"context"
	"time"
)

const (
	baseDelay = time.Second
	maxDelay  = 60 * time.Second
)

// Delay returns the wait before retry number attempt (starting at 1):
// (2^attempt - 1) seconds, capped at one minute.
func Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 2^6 seconds already exceeds maxDelay.
	if attempt > 6 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt-1)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Retry calls fn until it succeeds, attempts are exhausted or ctx is done.
// wait maps an attempt number to a delay; nil means Delay.
func Retry(ctx context.Context, attempts int, wait func(int) time.Duration, fn func(context.Context) error) error {
	if wait == nil {
		wait = Delay
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		t := time.NewTimer(wait(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
