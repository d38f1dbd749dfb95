// Package retry runs a task with a bounded number of attempts and a backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRetryLimitExceeded is matched by the error returned when every attempt failed retryably
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrInvalidPolicy is returned for a policy with fewer than one attempt
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// RetryableError marks a failure as eligible for another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so that Do retries it. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError anywhere in its chain.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// LimitExceededError is returned once the attempt budget is used up.
type LimitExceededError struct {
	Attempts int
	Last     error
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("retry limit exceeded after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last cause to errors.Is/As.
func (e *LimitExceededError) Unwrap() []error {
	return []error{ErrRetryLimitExceeded, e.Last}
}

// InterruptedError is returned when ctx ends during the pause before a retry.
type InterruptedError struct {
	Attempts int
	// Last is the failure of the final invocation
	Last error
	// Err is the context error
	Err error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("retry interrupted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *InterruptedError) Unwrap() []error {
	return []error{e.Err, e.Last}
}

// Policy bounds the number of invocations of a task.
type Policy struct {
	// MaxAttempts is the number of retries allowed after the first invocation, so a task
	// runs at most MaxAttempts+1 times. Zero means a single invocation.
	MaxAttempts int

	// Backoff returns the pause before a retry, given the number of retries already made
	// (0 before the first retry). Nil means no pause.
	Backoff Backoff

	// OnRetry is called before each pause with the number of failed invocations so far
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	return nil
}

// Attempts reports how many invocations an error returned by Do took.
// Zero means err did not come from Do after an invocation.
func Attempts(err error) int {
	var le *LimitExceededError
	if errors.As(err, &le) {
		return le.Attempts
	}
	var ie *InterruptedError
	if errors.As(err, &ie) {
		return ie.Attempts
	}
	var te *terminalError
	if errors.As(err, &te) {
		return te.attempts
	}
	return 0
}

// terminalError records how many attempts ran before a non-retryable failure.
type terminalError struct {
	attempts int
	err      error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Do invokes task with param until it succeeds, fails non-retryably, or the policy runs out
// of attempts. Pauses between attempts end early when ctx is done.
func Do[P, R any](ctx context.Context, policy Policy, task func(context.Context, P) (R, error), param P) (R, error) {
	var zero R
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	for retries := 0; ; retries++ {
		result, err := task(ctx, param)
		if err == nil {
			return result, nil
		}
		attempts := retries + 1
		if !IsRetryable(err) {
			return zero, &terminalError{attempts: attempts, err: err}
		}
		if retries == policy.MaxAttempts {
			return zero, &LimitExceededError{Attempts: attempts, Last: err}
		}

		var wait time.Duration
		if policy.Backoff != nil {
			wait = policy.Backoff(retries)
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempts, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return zero, &InterruptedError{Attempts: attempts, Last: err, Err: serr}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
