package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/tenant-pool/platform/go/retry/retrytest"
)

func TestDoFollowsExponentialScheduleWithCap(t *testing.T) {
	clk := retrytest.NewInstantClock(time.Unix(0, 0))
	calls := 0
	errTransient := errors.New("not propagated yet")

	err := Do(context.Background(), clk, Policy{
		Initial:    10 * time.Second,
		Multiplier: 1.5,
		Max:        60 * time.Second,
		Attempts:   8,
	}, func(ctx context.Context) error {
		calls++
		return errTransient
	}, nil)

	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 8, calls)
	require.Equal(t, []time.Duration{
		10 * time.Second,
		15 * time.Second,
		22500 * time.Millisecond,
		33750 * time.Millisecond,
		50625 * time.Millisecond,
		60 * time.Second,
		60 * time.Second,
	}, clk.Waits())
}

func TestDoStopsOnPermanentError(t *testing.T) {
	clk := retrytest.NewInstantClock(time.Unix(0, 0))
	errBad := errors.New("invalid key format")
	calls := 0

	err := Do(context.Background(), clk, Fixed(time.Second, 5), func(ctx context.Context) error {
		calls++
		return Permanent(errBad)
	}, nil)

	require.ErrorIs(t, err, errBad)
	require.False(t, IsPermanent(err))
	require.Equal(t, 1, calls)
	require.Empty(t, clk.Waits())
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	clk := retrytest.NewInstantClock(time.Unix(0, 0))
	calls := 0
	var notified []time.Duration

	err := Do(context.Background(), clk, Fixed(5*time.Second, 0), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("building")
		}
		return nil
	}, func(err error, wait time.Duration) {
		notified = append(notified, wait)
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, notified)
}

func TestDoReportsContextAndLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clk := retrytest.NewInstantClock(time.Unix(0, 0))
	errTransient := errors.New("503 from provider")

	err := Do(ctx, clk, Fixed(time.Second, 0), func(ctx context.Context) error {
		cancel()
		return errTransient
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, errTransient)
}

func TestWait(t *testing.T) {
	clk := retrytest.NewInstantClock(time.Unix(0, 0))
	require.NoError(t, Wait(context.Background(), clk, 3*time.Second))
	require.Equal(t, 3*time.Second, clk.Elapsed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Wait(ctx, clk, 0), context.Canceled)
}
