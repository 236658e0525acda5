package apperr

import (
	"context"
	"time"
)

// RetryPolicy controls how upstream failures are retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is used when components are built without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  4,
	BaseDelay: 25 * time.Millisecond,
	MaxDelay:  500 * time.Millisecond,
}

// Retry runs fn until it succeeds, fails with a kind other than
// KindUpstreamUnavailable, the attempts are exhausted or ctx is done.
// Backoff doubles from BaseDelay up to MaxDelay.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Is(err, KindUpstreamUnavailable) || attempt == p.Attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return Wrap(KindUpstreamUnavailable, "Datastore is unavailable", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
