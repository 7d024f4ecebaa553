package execution

import (
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds retries of transient adapter errors. It is an explicit
// policy object consumed by the engine, not an ad hoc sleep loop.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy suits live and paper adapters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

// NoRetry is used by the backtest adapter, whose errors are never transient
// and whose runs must not depend on the wall clock.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    p.MinDelay,
		Max:    p.MaxDelay,
		Factor: 2,
		Jitter: p.Jitter,
	}
}
