// Package retry provides typed retry policies with exponential backoff.
// Each operation class (entry, price poll, exit) carries its own policy so
// tests can assert attempt counts deterministically.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Policy describes how an operation class is retried.
type Policy struct {
	MaxAttempts int           // 0 means retry until the context is canceled
	Min         time.Duration // Initial backoff delay
	Max         time.Duration // Backoff ceiling
	Factor      float64       // Backoff growth factor (defaults to 2)
	Jitter      bool          // Randomize delays to avoid thundering herds
}

// Notify is called after each failed attempt with the attempt number (1-based),
// the error, and the delay before the next attempt.
type Notify func(attempt int, err error, next time.Duration)

// Do runs op until it succeeds, the attempt budget is exhausted, or the
// context is canceled. The last operation error is returned wrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return p.DoNotify(ctx, op, nil)
}

// DoNotify is Do with a per-failure callback.
func (p Policy) DoNotify(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
	if b.Factor <= 0 {
		b.Factor = 2
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("canceled after %d attempts: %w", attempt-1, lastErr)
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("exhausted %d attempts: %w", attempt, lastErr)
		}

		delay := b.Duration()
		if notify != nil {
			notify(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled after %d attempts: %w", attempt, lastErr)
		case <-time.After(delay):
		}
	}
}
