package remote

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides whether and when a failed request is attempted again.
type Retryer interface {
	// NextDelay returns the delay before the next attempt. attempt is 0 after
	// the first failure. false means give up.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoffRetryer implements exponential backoff with jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer doubling from initial up to
// max, with 20% jitter.
func NewExponentialBackoffRetryer(initial, max time.Duration, maxAttempts int) *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		JitterFactor: 0.2,
	}
}

// NextDelay implements Retryer.
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if attempt+1 >= r.MaxAttempts {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter, not security-critical
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}
