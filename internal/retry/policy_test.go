package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func countingTask(failures int, failWith func(error) error) (func(context.Context, string) (string, error), *int) {
	calls := 0
	return func(_ context.Context, p string) (string, error) {
		calls++
		if calls <= failures {
			return "", failWith(errFlaky)
		}
		return "ok:" + p, nil
	}, &calls
}

func TestDo(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
		failWith    func(error) error
		wantCalls   int
		wantResult  string
		wantLimit   bool
		wantFlaky   bool
	}{
		{"succeeds first time", 3, 0, Retryable, 1, "ok:x", false, false},
		{"succeeds on last retry", 3, 3, Retryable, 4, "ok:x", false, false},
		{"exhausts budget", 3, 5, Retryable, 4, "", true, true},
		{"one retry", 1, 5, Retryable, 2, "", true, true},
		{"no retries", 0, 1, Retryable, 1, "", true, true},
		{"non-retryable stops immediately", 5, 5, func(err error) error { return err }, 1, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, calls := countingTask(tt.failures, tt.failWith)
			result, err := Do(context.Background(), Policy{MaxAttempts: tt.maxAttempts}, task, "x")

			assert.Equal(t, tt.wantCalls, *calls)
			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, tt.wantLimit, errors.Is(err, ErrRetryLimitExceeded))
			assert.Equal(t, tt.wantFlaky, errors.Is(err, errFlaky))
			if err != nil {
				assert.Equal(t, tt.wantCalls, Attempts(err))
			}
		})
	}
}

func TestDo_LimitExceededError(t *testing.T) {
	task, _ := countingTask(10, Retryable)
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, task, "x")

	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 3, le.Attempts)
	assert.True(t, IsRetryable(le.Last))
}

func TestDo_BackoffAndOnRetry(t *testing.T) {
	var backoffArgs, seen []int
	var waits []time.Duration
	policy := Policy{
		MaxAttempts: 3,
		Backoff: func(retries int) time.Duration {
			backoffArgs = append(backoffArgs, retries)
			return time.Duration(retries) * time.Millisecond
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			seen = append(seen, attempt)
			waits = append(waits, wait)
		},
	}

	task, calls := countingTask(10, Retryable)
	_, err := Do(context.Background(), policy, task, "x")
	require.ErrorIs(t, err, ErrRetryLimitExceeded)

	// Three retries after the first call, no pause after the last one
	assert.Equal(t, 4, *calls)
	assert.Equal(t, []int{0, 1, 2}, backoffArgs)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{0, time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxAttempts: 3,
		Backoff:     Constant(time.Hour),
		OnRetry:     func(int, error, time.Duration) { cancel() },
	}

	task, calls := countingTask(10, Retryable)
	start := time.Now()
	_, err := Do(ctx, policy, task, "x")

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, *calls)
	assert.Less(t, time.Since(start), time.Minute)

	var ie *InterruptedError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Attempts)
	assert.Equal(t, 1, Attempts(err))
}

func TestDo_InvalidPolicy(t *testing.T) {
	task, calls := countingTask(0, Retryable)
	_, err := Do(context.Background(), Policy{MaxAttempts: -1}, task, "x")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, 0, *calls)
}

func TestRetryable(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.True(t, IsRetryable(Retryable(errFlaky)))
	assert.False(t, IsRetryable(errFlaky))
	assert.ErrorIs(t, Retryable(errFlaky), errFlaky)
}

func TestBackoff(t *testing.T) {
	c := Constant(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, c(1))
	assert.Equal(t, 5*time.Millisecond, c(9))

	e := Exponential(10*time.Millisecond, 2, 50*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, e(0))
	assert.Equal(t, 20*time.Millisecond, e(1))
	assert.Equal(t, 40*time.Millisecond, e(2))
	assert.Equal(t, 50*time.Millisecond, e(3))
	assert.Equal(t, 50*time.Millisecond, e(100))

	uncapped := Exponential(time.Millisecond, 3, 0)
	assert.Equal(t, 9*time.Millisecond, uncapped(2))
}

func TestExponential_UncappedDoesNotOverflow(t *testing.T) {
	uncapped := Exponential(time.Second, 2, 0)
	for _, retries := range []int{62, 63, 64, 200, 10000} {
		d := uncapped(retries)
		assert.Positive(t, d, "retries=%d", retries)
		assert.Equal(t, time.Duration(math.MaxInt64), d, "retries=%d", retries)
	}
	assert.Equal(t, time.Duration(1<<30)*time.Second, uncapped(30))
}
