package resilience

import (
	"errors"
	"sync"
	"time"
)

// BreakerMode is the circuit breaker state.
type BreakerMode string

const (
	BreakerClosed   BreakerMode = "CLOSED"
	BreakerOpen     BreakerMode = "OPEN"
	BreakerHalfOpen BreakerMode = "HALF_OPEN"
)

// ErrBreakerOpen is returned by Allow while the breaker is open and the
// cooldown has not elapsed.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker is a per-dependency circuit breaker. One instance exists per
// external service and is shared by all pipeline workers, so every state
// change happens under its mutex.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mode        BreakerMode
	failures    int
	lastFailure time.Time
	openUntil   time.Time
	probing     bool
}

// NewBreaker creates a closed breaker that opens after threshold
// consecutive failures and stays open for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		mode:      BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While open it fails fast with
// ErrBreakerOpen until the cooldown elapses; then exactly one trial call
// is let through in half-open mode.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Before(b.openUntil) {
			return ErrBreakerOpen
		}
		b.mode = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			// A trial call is already in flight.
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mode = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure. In half-open mode or once the threshold
// is reached it re-opens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.mode == BreakerHalfOpen || b.failures >= b.threshold {
		b.mode = BreakerOpen
		b.openUntil = b.now().Add(b.cooldown)
	}
	b.probing = false
}

// Mode returns the current breaker mode.
func (b *Breaker) Mode() BreakerMode {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Surface the pending half-open transition to observers.
	if b.mode == BreakerOpen && !b.now().Before(b.openUntil) {
		return BreakerHalfOpen
	}
	return b.mode
}

// Snapshot reports breaker internals for health reporting.
type BreakerSnapshot struct {
	Mode        BreakerMode `json:"mode"`
	Failures    int         `json:"consecutive_failures"`
	LastFailure time.Time   `json:"last_failure,omitempty"`
	OpenUntil   time.Time   `json:"open_until,omitempty"`
}

// Snapshot returns a copy of the current breaker state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Mode:        b.mode,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenUntil:   b.openUntil,
	}
}
