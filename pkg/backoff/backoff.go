// Package backoff computes retry delays.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Exponential returns min(unit*2^(attempt-1), max). Attempts are 1-based; values
// below 1 are treated as 1. A non-positive max disables the cap.
func Exponential(unit, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := float64(unit) * mul
	if max > 0 && d > float64(max) {
		return max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ExponentialJitter is Exponential with +/- 20% jitter applied.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	d := Exponential(base, max, attempt)

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + rand.N(2*j)
}
