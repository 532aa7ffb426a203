package rotation

import (
	"context"
	"time"

	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
)

// Backoff controls the retry loop wrapped around each rotation step.
// Delays grow exponentially from Base and are capped at Max.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoff retries transient failures a handful of times before a
// run gives up.
var DefaultBackoff = Backoff{Attempts: 4, Base: time.Second, Max: 30 * time.Second}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// attempts, or the context is cancelled.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Base

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if b.Max > 0 && delay > b.Max {
				delay = b.Max
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !dserrors.IsRetryable(err) {
			return err
		}
	}
	return err
}
