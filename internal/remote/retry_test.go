package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	r := &ExponentialBackoffRetryer{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  4,
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		d, ok := r.NextDelay(attempt, nil)
		assert.True(t, ok, "attempt %d", attempt)
		assert.Equal(t, w, d, "attempt %d", attempt)
	}
	_, ok := r.NextDelay(3, nil)
	assert.False(t, ok, "ceiling reached")
}

func TestSingleAttemptNeverRetries(t *testing.T) {
	r := NewExponentialBackoffRetryer(time.Millisecond, time.Second, 1)
	_, ok := r.NextDelay(0, nil)
	assert.False(t, ok)
}

func TestJitterBounds(t *testing.T) {
	r := NewExponentialBackoffRetryer(100*time.Millisecond, time.Second, 10)
	for i := 0; i < 50; i++ {
		d, ok := r.NextDelay(0, nil)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
