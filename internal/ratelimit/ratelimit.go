// Package ratelimit gates every outbound generation request.
//
// Two independent limits apply: a spacing floor between consecutive
// requests, and a cap on requests within a rolling one-minute window.
// The window counter resets once the limiter has been quiet for a full
// window, matching the backend's accounting.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the limiter constants. The zero value is replaced with
// production defaults; tests shrink these to keep runs fast.
type Config struct {
	// MinInterval is the spacing floor between consecutive requests.
	MinInterval time.Duration

	// WindowLimit is the maximum number of requests per window.
	WindowLimit int

	// Window is the rolling accounting window.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval == 0 {
		c.MinInterval = time.Second
	}
	if c.WindowLimit == 0 {
		c.WindowLimit = 50
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	return c
}

// Limiter serializes callers and delays them until a request slot is
// safe to use. It never fails except on context cancellation.
type Limiter struct {
	cfg     Config
	spacing *rate.Limiter

	mu            sync.Mutex
	lastRequestAt time.Time
	requestCount  int

	// now is swappable for tests
	now func() time.Time
}

// New creates a Limiter with the given config.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:     cfg,
		spacing: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:     time.Now,
	}
}

// AwaitSlot blocks until it is safe to issue one outbound request, then
// records the request. Concurrent callers serialize through the
// limiter; there is no queue beyond that.
func (l *Limiter) AwaitSlot(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Window cap first: if the counter is exhausted and the window has
	// not yet elapsed since the last request, sleep out the remainder.
	elapsed := l.now().Sub(l.lastRequestAt)
	if !l.lastRequestAt.IsZero() && elapsed >= l.cfg.Window {
		l.requestCount = 0
	}
	if l.requestCount >= l.cfg.WindowLimit {
		remaining := l.cfg.Window - elapsed
		if remaining > 0 {
			if err := sleep(ctx, remaining); err != nil {
				return err
			}
		}
		l.requestCount = 0
	}

	// Spacing floor. The token bucket holds one token refilled every
	// MinInterval, which guarantees consecutive unblocked callers are
	// at least MinInterval apart.
	if err := l.spacing.Wait(ctx); err != nil {
		return err
	}

	l.lastRequestAt = l.now()
	l.requestCount++
	return nil
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
