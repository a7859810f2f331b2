package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an explicit retry budget: a fixed number of attempts separated by a
// constant delay. Remote transfers share one policy value so connect, upload and
// download all exhaust the same bound.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 5 * time.Second}
}

// Permanent marks err as non-retryable; Do surfaces it immediately without
// consuming the remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy. The last error is returned once the attempt
// budget is exhausted or op reports a permanent failure.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, b)
}
