// Package retry is the single retry/backoff utility for the agent.
//
// Retry-with-backoff shows up in three places (ledger consumption, the
// contextual business-id resolution, and the legacy direct-API fallback)
// with different constants. They all go through this package so the
// behavior cannot diverge.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Base is the initial wait between attempts.
	Base time.Duration

	// Factor multiplies the wait after each failed attempt.
	Factor float64

	// Cap bounds the wait between attempts.
	Cap time.Duration
}

// LedgerPolicy is the schedule for remote credit consumption.
func LedgerPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Factor: 2, Cap: 10 * time.Second}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. Only errors for which
// errdefs.IsRetryable reports true are retried; anything else is
// returned immediately. Context cancellation aborts the wait.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.Cap
	eb.RandomizationFactor = 0 // deterministic schedule
	eb.MaxElapsedTime = 0      // bounded by attempt count, not wall time
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errdefs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// Fixed runs op up to attempts times with a constant gap between tries.
// Used for the best-effort contextual-id resolution where exponential
// growth buys nothing.
func Fixed(ctx context.Context, attempts int, gap time.Duration, op func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gap):
		}
	}
	return err
}
