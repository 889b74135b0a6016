package catalog

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of the catalog circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets trial calls through after the open timeout.
	BreakerHalfOpen
	// BreakerOpen rejects calls until the timeout elapses.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker is open.
var ErrBreakerOpen = errors.New("catalog circuit breaker is open")

// Breaker trips after a run of consecutive failures and recovers after a
// run of consecutive successes in half-open. Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
	now              func() time.Time

	// onChange is called with the lock held whenever the state changes.
	onChange func(BreakerState)
}

// NewBreaker creates a breaker. Non-positive arguments fall back to
// 5 failures, 2 successes and a 30s open timeout.
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	if b.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.failures = 0
			b.successes = 0
			b.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.open()
		}
	case BreakerHalfOpen:
		// A failed trial call reopens immediately.
		b.successes = 0
		b.open()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.setState(BreakerOpen)
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.timeout {
		b.successes = 0
		b.setState(BreakerHalfOpen)
	}
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}
