package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is returned by Poll when every attempt came back empty.
var ErrExhausted = errors.New("poll attempts exhausted")

var errNotYet = errors.New("not yet available")

// CheckFunc reports the polled value and whether it is available. A non-nil
// error stops polling immediately.
type CheckFunc[T any] func(ctx context.Context) (T, bool, error)

// Poll calls check up to attempts times, sleeping delay between calls, until
// it reports the value as available. Cancellation of ctx ends polling with
// ctx's error.
func Poll[T any](ctx context.Context, attempts int, delay time.Duration, check CheckFunc[T]) (T, error) {
	var result T
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		value, ok, err := check(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return goretry.RetryableError(errNotYet)
		}
		result = value
		return nil
	})
	if errors.Is(err, errNotYet) {
		return result, ErrExhausted
	}
	return result, err
}

// Do runs fn with exponential backoff starting at base for at most retries
// additional attempts. fn marks transient failures with Retryable.
func Do(ctx context.Context, retries uint64, base time.Duration, fn func(ctx context.Context) error) error {
	backoff := goretry.WithMaxRetries(retries, goretry.NewExponential(base))
	return goretry.Do(ctx, backoff, fn)
}

// Retryable marks err as transient for Do.
func Retryable(err error) error {
	return goretry.RetryableError(err)
}

// BackoffDelay returns the exponential delay before retry number attempt
// (1-based): min, 2*min, 4*min and so on, capped at max.
func BackoffDelay(attempt int, min, max time.Duration) time.Duration {
	if min <= 0 {
		return 0
	}
	if max < min {
		max = min
	}
	backoff := goretry.WithCappedDuration(max, goretry.NewExponential(min))
	delay := min
	for i := 0; i < attempt; i++ {
		next, stop := backoff.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}
