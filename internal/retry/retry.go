// Package retry is a small bounded-retry combinator: a fixed number of
// attempts with a constant inter-attempt delay, cancellable through the
// context.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/avistalabs/columbus/internal/logging"
)

// Permanent wraps err so Do stops retrying immediately and returns it.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op up to attempts times, sleeping delay between attempts. It stops
// early when ctx is cancelled or op returns a Permanent error. The last error
// is returned when every attempt fails.
func Do(ctx context.Context, attempts int, delay time.Duration, logger logging.Logger, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		attempt++
		if logger != nil {
			logger.Warn("attempt failed, retrying",
				logging.Field{Key: "attempt", Value: attempt},
				logging.Field{Key: "next_in", Value: next.String()},
				logging.Field{Key: "error", Value: err.Error()})
		}
	})
}
