package snapshot

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy enables bounded exponential retries for a fetch. Fetches are
// not retried unless a caller opts in.
type RetryPolicy struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		exp.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		exp.MaxInterval = p.Max
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

func (p *RetryPolicy) do(ctx context.Context, fetch Fetcher) (any, error) {
	if p == nil || p.MaxRetries == 0 {
		return fetch(ctx)
	}
	var out any
	op := func() error {
		v, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	if err := backoff.Retry(op, p.backOff(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOption customises a single Fetch call.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	retry *RetryPolicy
}

// WithRetry retries failed reads with the given policy. When several callers
// share one request the policy of the caller that started it applies.
func WithRetry(p RetryPolicy) FetchOption {
	return func(o *fetchOptions) { o.retry = &p }
}
