package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stellarlinkco/docarena/internal/llm"
)

// callWithRetry runs fn with transient-failure retries. The whole attempt
// chain, retries and retry-delay sleeps included, is bounded by one
// deadline: hitting it aborts with the context error even when retry
// budget remains. maxRetries is the number of retries after the first
// attempt. onRetry fires before each retry sleep.
func callWithRetry(ctx context.Context, timeout time.Duration, maxRetries int, retryDelay time.Duration, onRetry func(err error), fn func(ctx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("pipeline: nil call")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(cctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cctx.Err() != nil {
			return cctx.Err()
		}
		if !llm.IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		if onRetry != nil {
			onRetry(err)
		}
		if err := sleepWithContext(cctx, retryDelay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
