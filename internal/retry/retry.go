// Package retry implements the pipeline's shared exponential backoff
// and retry policy. The schedule is a fixed formula the corpus's
// generic backoff libraries don't expose directly (they parameterize
// jitter and multipliers but not this exact base-1s/cap-60s/saturate-
// at-6 saturation rule), so it is hand-rolled rather than imported.
package retry

import (
	"context"
	"time"
)

// Delay returns the backoff duration before retry attempt k (1-based):
// min(60s, 2^min(k,6) seconds).
func Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	exp := k
	if exp > 6 {
		exp = 6
	}
	seconds := time.Duration(1) << uint(exp)
	d := seconds * time.Second
	capped := 60 * time.Second
	if d > capped {
		return capped
	}
	return d
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

// Policy runs fn, retrying on retryable errors for at most MaxAttempts
// attempts in total (0 means retry indefinitely), sleeping Delay(k)
// after the k-th failed attempt. It returns the last error once the
// attempt budget is exhausted, or ctx.Err() if the context is cancelled
// while waiting to retry.
type Policy struct {
	MaxAttempts int
	Retryable   Classifier
}

// Do executes fn under the policy. attempt 1 is the first try; Delay is
// applied before attempts 2, 3, ... so the caller never waits before
// its first attempt.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Delay(attempt - 1)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return lastErr
}
