package scraper

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a fixed number of times with a constant
// interval between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Retryable   func(error) bool

	// OnRetry, when set, is called before waiting for the next attempt.
	OnRetry func(attempt int, err error)
}

// NewRetryPolicy returns a policy that retries transient transport errors.
func NewRetryPolicy(maxAttempts int, interval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Interval:    interval,
		Retryable:   IsTransient,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is cancelled. It returns the number of attempts made and
// the last error.
func (p RetryPolicy) Do(ctx context.Context, op func() error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempt := 0
	for {
		attempt++
		err := op()
		if err == nil {
			return attempt, nil
		}
		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := wait(ctx, p.Interval); err != nil {
			return attempt, err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
