package generation

import (
	"context"
	"time"
)

// Retry defaults.
const (
	DefaultMaxRetries  = 5
	DefaultBackoffUnit = time.Second
)

// RetryPolicy bounds retries on rate limiting.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts made for one call.
	MaxRetries int

	// BackoffUnit scales the exponential schedule: the wait after failed
	// attempt n (1-based) is 2^n * BackoffUnit.
	BackoffUnit time.Duration
}

// DefaultRetryPolicy returns 5 attempts with waits of 2s, 4s, 8s and 16s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BackoffUnit: DefaultBackoffUnit}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BackoffUnit <= 0 {
		p.BackoffUnit = DefaultBackoffUnit
	}
	return p
}

// Backoff returns the wait after failed attempt n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BackoffUnit << uint(n)
}

// Schedule returns every wait the policy can incur, in order. There is no
// wait after the final attempt.
func (p RetryPolicy) Schedule() []time.Duration {
	p = p.normalized()
	out := make([]time.Duration, 0, p.MaxRetries-1)
	for n := 1; n < p.MaxRetries; n++ {
		out = append(out, p.Backoff(n))
	}
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
