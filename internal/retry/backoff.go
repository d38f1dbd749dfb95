package retry

import (
	"math"
	"time"
)

// Backoff returns the pause before a retry, given the number of retries already made.
type Backoff func(retries int) time.Duration

// Constant waits d before every retry.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential waits initial before the first retry and multiplies by multiplier before each
// further one, capped at max. A max of zero caps at the largest time.Duration.
func Exponential(initial time.Duration, multiplier float64, max time.Duration) Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	limit := float64(math.MaxInt64)
	if max > 0 {
		limit = float64(max)
	}
	return func(retries int) time.Duration {
		d := float64(initial)
		for i := 0; i < retries && d < limit; i++ {
			d *= multiplier
		}
		if d >= limit {
			if max > 0 {
				return max
			}
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(d)
	}
}
