// Package backoff contains various backoff strategies to be used in
// conjunction with retriers.
package backoff

import (
	"math"
	"time"
)

// Strategy is a function that provides the amount of time to wait before
// trying again.
type Strategy func(attempts uint) time.Duration

// Constant returns a strategy that always returns the provided duration.
func Constant(interval time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		return interval
	}
}

// Linear returns a strategy that scales linearly with the number of attempts.
func Linear(interval time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		return time.Duration(attempts) * interval
	}
}

// Exponential returns a strategy that scales exponentially with the number
// of attempts, using the provided base.
func Exponential(interval time.Duration, base float64) Strategy {
	return func(attempts uint) time.Duration {
		return time.Duration(float64(interval) * math.Pow(base, float64(attempts-1)))
	}
}

// BinaryExponential returns an Exponential strategy with a base of 2.
func BinaryExponential(interval time.Duration) Strategy {
	return Exponential(interval, 2)
}
