// Package retry wraps cenkalti/backoff with an injectable clock so polling and
// provisioning loops can be driven deterministically in tests.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Clock is the narrow time source every wait goes through.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return clock.New()
}

// Policy describes a bounded exponential schedule. Multiplier 1 gives a fixed interval.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Attempts is the total number of calls, including the first one. Zero means unbounded
	// (the context deadline is then the only limit).
	Attempts int
	// Jitter is the backoff randomization factor; zero keeps the schedule deterministic.
	Jitter float64
}

// Fixed returns a policy that waits the same interval between attempts.
func Fixed(interval time.Duration, attempts int) Policy {
	return Policy{Initial: interval, Multiplier: 1, Max: interval, Attempts: attempts}
}

// Notify is called before every wait with the error that triggered it.
type Notify func(err error, wait time.Duration)

// Permanent marks err as non-retryable; Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a permanent error, the attempt budget is spent,
// or ctx is done. When ctx ends the returned error wraps both the context error and the
// last attempt's error.
func Do(ctx context.Context, clk Clock, p Policy, op func(ctx context.Context) error, notify Notify) error {
	if clk == nil {
		clk = SystemClock()
	}

	var lastErr error
	operation := func() error {
		err := op(ctx)
		if err != nil && !IsPermanent(err) {
			lastErr = err
		}
		return err
	}

	err := backoff.RetryNotifyWithTimer(operation, newBackOff(ctx, clk, p), backoff.Notify(notify), &clockTimer{clock: clk})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) && lastErr != nil {
		return fmt.Errorf("%w: last attempt: %w", ctxErr, lastErr)
	}
	return err
}

// Wait blocks for d on clk or until ctx is done.
func Wait(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

func newBackOff(ctx context.Context, clk Clock, p Policy) backoff.BackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxInterval := p.Max
	if maxInterval < p.Initial {
		maxInterval = p.Initial
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	exp.Reset()

	var b backoff.BackOff = exp
	if p.Attempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.Attempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// clockTimer adapts Clock to backoff.Timer.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                  {}
func (t *clockTimer) C() <-chan time.Time    { return t.c }
