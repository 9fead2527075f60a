// Package retry runs an operation under a bounded attempt budget.
package retry

import (
	"context"
	"math/rand"
	"time"
)

const DefaultAttempts = 3

// Policy bounds a retried operation. Backoff is the fixed delay between
// attempts; Jitter adds a random extra delay in [0, Jitter).
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Jitter   time.Duration
}

// Default is three attempts with no delay.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts}
}

// Do calls fn until it succeeds or the attempt budget is spent and returns
// the first success or the last failure. Cancellation of ctx stops further
// attempts and returns ctx.Err() if no attempt succeeded.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		val, err := fn(ctx, attempt)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if attempt < attempts {
			if err := sleep(ctx, p.delay()); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, lastErr
}

func (p Policy) delay() time.Duration {
	d := p.Backoff
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
