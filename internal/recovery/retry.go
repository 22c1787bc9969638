package recovery

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the inline retry policy for a single attempt
type RetryConfig struct {
	MaxRetries        int           // retries after the first call (default: 1)
	InitialBackoff    time.Duration // first wait (default: 1s)
	MaxBackoff        time.Duration // backoff ceiling (default: 30s)
	BackoffMultiplier float64       // growth per retry (default: 2.0)
}

// DefaultRetryConfig returns the executor's inline retry policy: transient
// errors get exactly one retry before counting against the attempt budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff computes the wait before retry number attempt (0-based). This is
// the single backoff calculation shared by both wait entry points.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * cfg.BackoffMultiplier)
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if d > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return d
}

// Waiter is the wait primitive used between retries. The call site chooses
// the implementation explicitly: WaitBlocking for synchronous paths,
// ContextWaiter inside anything driven by a context/event loop. The blocking
// primitive must never run inside an event loop.
type Waiter func(ctx context.Context, d time.Duration) error

// WaitBlocking sleeps without watching the context. For plain synchronous
// call paths only.
func WaitBlocking(_ context.Context, d time.Duration) error {
	time.Sleep(d)
	return nil
}

// Wait waits on a timer while honoring context cancellation
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryStats reports what ExecuteWithRetry actually did
type RetryStats struct {
	Calls int // times fn was invoked
	Waits int // backoff waits issued
}

// ExecuteWithRetry calls fn, retrying transient-classified failures up to
// cfg.MaxRetries times with backoff. Deterministic and fatal errors are
// returned immediately without waiting; re-running them would fail
// identically. The breaker may be nil.
func ExecuteWithRetry(ctx context.Context, operation string, fn func(context.Context) error,
	cfg RetryConfig, wait Waiter, breaker *CircuitBreaker) (RetryStats, error) {
	if wait == nil {
		wait = Wait
	}

	var stats RetryStats
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				return stats, fmt.Errorf("%s blocked: %w", operation, err)
			}
		}

		stats.Calls++
		err := fn(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return stats, nil
		}
		lastErr = err

		class := Classify(err)
		if class != ClassTransient {
			// Deterministic/fatal: re-raise immediately, zero waits.
			return stats, err
		}
		if breaker != nil {
			breaker.RecordFailure()
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return stats, fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}

		d := Backoff(attempt, cfg)
		fmt.Printf("Recovery: %s transient failure (attempt %d/%d), retrying in %v: %v\n",
			operation, attempt+1, cfg.MaxRetries+1, d, err)
		stats.Waits++
		if err := wait(ctx, d); err != nil {
			return stats, fmt.Errorf("%s canceled during backoff: %w", operation, err)
		}
	}

	return stats, fmt.Errorf("%s failed after %d attempts: %w", operation, stats.Calls, lastErr)
}
