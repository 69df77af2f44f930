package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scrapekit/internal/metrics"
)

// Fetcher is the surface the retry wrapper and the collection layer work
// against. Client, Session, and Retry all satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
	FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*Response, error)
}

// Retry wraps a Fetcher with attempt-and-delay semantics: any fetch error is
// retried up to Attempts total tries, sleeping Delay between them, and the
// last error surfaces after exhaustion. A parseable Retry-After from the
// server replaces the fixed delay for that wait, clamped to MaxDelay.
//
// The waits run through SleepContext, so a retried fetch remains a
// cancellation point between attempts.
type Retry struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration

	// Job labels retry metrics and log records.
	Job string
	// Log, when set, records each failed attempt.
	Log *slog.Logger

	f     Fetcher
	sleep func(context.Context, time.Duration) error
}

// NewRetry wraps f. Attempts below 1 behave as 1 (a single try, no retry).
func NewRetry(f Fetcher, attempts int, delay time.Duration) *Retry {
	return &Retry{
		Attempts: attempts,
		Delay:    delay,
		MaxDelay: 2 * time.Minute,
		f:        f,
		sleep:    SleepContext,
	}
}

// SetSleep replaces the between-attempt sleeper. Hosts route it to their
// injected sleep so retry waits stay observable in tests.
func (r *Retry) SetSleep(fn func(context.Context, time.Duration) error) {
	if fn != nil {
		r.sleep = fn
	}
}

func (r *Retry) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return r.FetchWith(ctx, rawURL, nil)
}

func (r *Retry) FetchWith(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := r.f.FetchWith(ctx, rawURL, headers)
		if err == nil {
			return resp, nil
		}
		last = err

		if r.Log != nil {
			r.Log.Warn("fetch attempt failed",
				"url", rawURL, "attempt", attempt, "of", attempts, "err", err)
		}
		if attempt == attempts {
			break
		}

		metrics.RecordRetry(r.Job)
		if err := r.sleep(ctx, r.wait(last)); err != nil {
			return nil, err
		}
	}
	return nil, last
}

// wait picks the delay before the next attempt.
func (r *Retry) wait(last error) time.Duration {
	d := r.Delay
	var fe *Error
	if errors.As(last, &fe) && fe.RetryAfter > 0 {
		d = fe.RetryAfter
		if r.MaxDelay > 0 && d > r.MaxDelay {
			d = r.MaxDelay
		}
	}
	return d
}
