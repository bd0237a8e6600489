package resilience

import (
	"math/rand"
	"time"
)

// RetryPolicy is a bounded exponential-backoff policy. The delay doubles
// each attempt, capped at MaxDelay, with ±25% random jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy mirrors the tuning used for both external services:
// 3 attempts, 1s base delay, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the backoff before retry attempt n (0-indexed: the delay
// taken after the n-th failed attempt).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		spread := int64(d) / 4
		d += time.Duration(rand.Int63n(2*spread+1) - spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}
