package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig is the per-endpoint retry policy.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per endpoint.
	MaxAttempts int

	// BackoffBase is the wait after the first failure.
	BackoffBase time.Duration

	// BackoffMultiplier grows the wait on each further failure.
	BackoffMultiplier float64

	// MaxBackoff caps the wait.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt, with +/-25% jitter
// so parallel cells do not retry in lockstep.
func (r RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(r.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= r.BackoffMultiplier
	}
	if limit := float64(r.MaxBackoff); r.MaxBackoff > 0 && d > limit {
		d = limit
	}
	return time.Duration(d + d*0.25*(rand.Float64()*2-1))
}
