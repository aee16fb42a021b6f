package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// retryPolicy is shared by the real providers: bounded attempts with
// exponential backoff and jitter. Context cancellation always wins over a
// pending backoff sleep.
type retryPolicy struct {
	maxRetries int
	base       time.Duration

	// onRetry fires once per backoff, before the sleep.
	onRetry func()
}

func newRetryPolicy(maxRetries int, base time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 5 {
		maxRetries = 5
	}
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	return retryPolicy{maxRetries: maxRetries, base: base}
}

// run invokes attempt until it succeeds, returns a non-retryable error, or
// the retry budget is exhausted.
func (p retryPolicy) run(ctx context.Context, attempt func() (string, bool, error)) (string, error) {
	var lastErr error
	for try := 0; try <= p.maxRetries; try++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, retryable, err := attempt()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable || try >= p.maxRetries {
			break
		}

		if p.onRetry != nil {
			p.onRetry()
		}
		timer := time.NewTimer(retryDelay(p.base, try))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base * time.Duration(1<<attempt)
	jitterScale := 0.8 + (rand.Float64() * 0.4)
	jittered := time.Duration(float64(delay) * jitterScale)
	if jittered < 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	return jittered
}

func contextWithDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), timeout)
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
