package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10))
	assert.Equal(t, time.Second, p.Delay(0))
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy(), RetryPolicy{}.withDefaults())
}

func TestDoStopsOnSuccess(t *testing.T) {
	var seen []int
	attempts, err := fastRetry.Do(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts, err := fastRetry.Do(context.Background(), func(context.Context, int) error {
		return errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 3, attempts)
}

func TestDoHonoursNonRetryable(t *testing.T) {
	cause := errors.New("bad request")
	attempts, err := fastRetry.Do(context.Background(), func(context.Context, int) error {
		return NonRetryable(cause)
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsNonRetryable(err))
	assert.False(t, IsNonRetryable(cause))
	assert.Nil(t, NonRetryable(nil))
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour}

	attempts, err := slow.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("failed once")
	})
	assert.Equal(t, 1, attempts)
	assert.EqualError(t, err, "failed once")

	attempts, err = slow.Do(ctx, func(context.Context, int) error { return nil })
	assert.Zero(t, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}
