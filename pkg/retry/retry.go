package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds an exponential backoff retry loop.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries    uint64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Randomization float64
}

// DefaultPolicy matches the remote-signer resolution contract: 4 attempts
// total, 1s initial delay, 5s cap, ±50% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Second,
		Randomization: 0.5,
	}
}

// Do runs op under the policy, retrying only errors the classifier reports as
// recoverable. Non-recoverable errors short-circuit immediately. Context
// cancellation stops the loop and returns the context error.
func Do(ctx context.Context, policy Policy, isRecoverable func(error) bool, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.MaxInterval = policy.MaxDelay
	b.RandomizationFactor = policy.Randomization
	b.Multiplier = 2
	// MaxElapsedTime would add a second, time-based ceiling; attempts are the
	// only ceiling here.
	b.MaxElapsedTime = 0

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if isRecoverable != nil && !isRecoverable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxRetries), ctx))
}
