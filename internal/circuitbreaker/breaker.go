// Package circuitbreaker holds REST traffic off a venue that is
// failing at the transport or 5xx level, so retries do not pile onto
// an outage. Throttling responses (429/418) are the rate limiter's
// concern and are never recorded here.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	// StateClosed passes all traffic.
	StateClosed State = iota
	// StateOpen rejects traffic until the probe timeout elapses.
	StateOpen
	// StateHalfOpen passes probe traffic after the timeout.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	return [...]string{"CLOSED", "OPEN", "HALF_OPEN"}[s]
}

// Config tunes the breaker thresholds.
type Config struct {
	// FailThreshold is the consecutive failure count that opens the breaker.
	FailThreshold int
	// SuccessThreshold is the probe success count that closes it again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// Breaker is a minimal consecutive-failure circuit breaker. A single
// mutex guards all state; contention is negligible next to network IO.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	config    Config
	now       func() time.Time
}

// New creates a closed breaker with the given thresholds.
func New(config Config) *Breaker {
	return &Breaker{config: config, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Allow reports whether a request may go out. An open breaker whose
// timeout has elapsed transitions to half-open and lets one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return false
}

// Record feeds the outcome of a request back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if !success {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateOpen:
		// Late results from requests issued before the trip.
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
