package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := Policy{Attempts: 5, Delay: time.Millisecond, Retryable: func(err error) bool { return !errors.Is(err, fatal) }}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error { calls++; return errors.New("x") })
	assert.Equal(t, 1, calls)
}
