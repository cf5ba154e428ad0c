package staging

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier runs a filesystem operation up to Attempts times, waiting Backoff
// between attempts, as long as it fails with an error Transient accepts.
// Any other error ends the loop at once.
type Retrier struct {
	Attempts  int
	Backoff   time.Duration
	Transient func(error) bool
}

// Do runs op under the retry policy and returns its last error.
func (r Retrier) Do(ctx context.Context, op func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Backoff), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && (r.Transient == nil || !r.Transient(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, _ time.Duration) {
		log.Info("waiting for os to release files", "attempt", attempt, "of", attempts, "error", err)
	})
}
