package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, delay time.Duration) error {
	p.delays = append(p.delays, delay)
	return ctx.Err()
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	calls := 0
	got, err := Do(context.Background(), Policy{Attempts: 3, InitialDelay: 100 * time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient error")
			}
			return "ok", nil
		},
		WithPauser(pauser),
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, pauser.delays)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	var errs []error
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 4, InitialDelay: 10 * time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			e := fmt.Errorf("attempt %d failed", calls)
			errs = append(errs, e)
			return 0, e
		},
		WithPauser(pauser),
	)

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Same(t, errs[len(errs)-1], err)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, pauser.delays)
}

func TestDo_OnRetryHook(t *testing.T) {
	t.Parallel()

	var attempts []int
	_, err := Do(context.Background(), Policy{Attempts: 3},
		func(context.Context) (struct{}, error) {
			return struct{}{}, errors.New("boom")
		},
		WithPauser(&recordingPauser{}),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) {
			attempts = append(attempts, attempt)
		}),
	)

	require.EqualError(t, err, "boom")
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_NonPositiveAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 0},
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("nope")
		},
	)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringPause(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, InitialDelay: time.Hour},
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("fail")
		},
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := Policy{Attempts: 3, InitialDelay: 700 * time.Millisecond}
	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 700 * time.Millisecond},
		{2, 1400 * time.Millisecond},
		{3, 2800 * time.Millisecond},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, p.Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestTimerPauser(t *testing.T) {
	t.Parallel()

	require.NoError(t, TimerPauser{}.Pause(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, TimerPauser{}.Pause(ctx, time.Hour), context.Canceled)
}
