// Package retry provides the bounded retry policy shared by the execution engine and the
// ledger adapters.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAttempts   = 2
	defaultDelay      = 500 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
	defaultMultiplier = 2.0
)

// Policy bounds how many times an operation is attempted and how long to wait in between.
type Policy struct {
	Attempts   int           // total attempts, including the first one
	Delay      time.Duration // wait before the first retry
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy allows one retry after 500ms.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   defaultAttempts,
		Delay:      defaultDelay,
		MaxDelay:   defaultMaxDelay,
		Multiplier: defaultMultiplier,
	}
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Do runs fn until it succeeds, returns an error the classifier rejects, the attempts
// are exhausted or ctx is done. It returns how many attempts were made.
func (p Policy) Do(ctx context.Context, retryable Classifier, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Debug("retry: attempt failed, backing off",
			"attempt", attempts,
			"wait", wait,
			"err", err,
		)
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	return attempts, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Delay
	exp.Multiplier = p.Multiplier
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
}
