package store

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy tunes the lock-contention retry wrapper around mutating
// storage operations.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// RandomizationFactor adds jitter so concurrent writers don't retry in
	// lockstep. 0.25 means each delay varies by ±25%.
	RandomizationFactor float64
}

// DefaultRetryPolicy returns the standard policy: 5 attempts, 50ms initial
// delay, doubling up to 2s, with ±25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         5,
		InitialInterval:     50 * time.Millisecond,
		Multiplier:          2.0,
		MaxInterval:         2 * time.Second,
		RandomizationFactor: 0.25,
	}
}

// lockErrSubstrings classify transient SQLite lock contention. SQLite's
// error taxonomy is string-based, so classification is by substring match
// rather than typed codes.
var lockErrSubstrings = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
}

// IsLockContention reports whether err looks like transient lock contention
// on the backing store. This is the default retryable predicate.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range lockErrSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retryer wraps mutating storage operations with exponential-backoff retry
// on lock contention. Non-retryable errors propagate immediately; after
// exhausting attempts the last error is returned unchanged, so callers see
// the underlying store error rather than a generic timeout.
type Retryer struct {
	policy    RetryPolicy
	retryable func(error) bool
}

// NewRetryer creates a Retryer with the lock-contention predicate.
func NewRetryer(policy RetryPolicy) *Retryer {
	return &Retryer{policy: policy, retryable: IsLockContention}
}

// NewRetryerWithPredicate creates a Retryer with a custom retryable
// predicate. Exists so the substring heuristic stays isolated: a backing
// store with a typed error model plugs in its own classification here.
func NewRetryerWithPredicate(policy RetryPolicy, retryable func(error) bool) *Retryer {
	return &Retryer{policy: policy, retryable: retryable}
}

// Do runs op, retrying on retryable errors per the policy.
func (r *Retryer) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.policy.InitialInterval
	bo.Multiplier = r.policy.Multiplier
	bo.MaxInterval = r.policy.MaxInterval
	bo.RandomizationFactor = r.policy.RandomizationFactor
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	attempts := uint64(0)
	if r.policy.MaxAttempts > 1 {
		attempts = uint64(r.policy.MaxAttempts - 1)
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if r.retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx))
}
