// Package breaker provides a circuit breaker for guarding calls to an
// unreliable upstream.
//
// The breaker starts Closed and passes every call through. After a configured
// number of consecutive failures it trips Open and rejects calls immediately,
// so a known-broken upstream stops consuming quota and retry budget. Once the
// open duration elapses it allows a single half-open probe: a successful probe
// closes the circuit, a failed one re-opens it and restarts the timer.
//
//	br := breaker.New()
//
//	permit, err := br.Allow()
//	if err != nil {
//	    return err // upstream is known broken, fail fast
//	}
//	if err := callUpstream(ctx); err != nil {
//	    permit.Failure()
//	    return err
//	}
//	permit.Success()
//
// Which failures count toward the threshold is the caller's decision: record
// Failure only for errors that indicate upstream ill health (timeouts,
// 5xx-class), and Cancel the permit when the call never reached the upstream
// at all.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the circuit is open. Callers should
// surface it as a "try later" condition without touching the upstream.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen rejects all calls until the open duration elapses.
	StateOpen
	// StateHalfOpen permits a single probe to test recovery.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the consecutive failure count that trips
	// the circuit.
	DefaultFailureThreshold = 5

	// DefaultOpenDuration is how long the circuit rejects calls before
	// permitting a half-open probe.
	DefaultOpenDuration = 30 * time.Second
)

// Breaker is a circuit breaker. The zero value is not usable; create
// instances with New. Breakers are process-wide shared state with the
// lifetime of the gateway that owns them; they are safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	probing          bool
	failureThreshold int
	openDuration     time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// Permit is a single grant from Allow. Exactly one of Success, Failure, or
// Cancel must be called, once; further calls are no-ops.
type Permit struct {
	once sync.Once
	b    *Breaker
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failure count that trips the
// circuit (default 5).
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithOpenDuration sets how long the circuit stays open before permitting a
// probe (default 30s).
func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

// New creates a closed Breaker.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		failureThreshold: DefaultFailureThreshold,
		openDuration:     DefaultOpenDuration,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. It returns ErrOpen while the
// circuit is open, and while a half-open probe is already in flight.
// Otherwise it returns a Permit that the caller must resolve with Success,
// Failure, or Cancel so the breaker observes the outcome.
func (b *Breaker) Allow() (*Permit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openDuration {
			return nil, ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return nil, ErrOpen
		}
		b.probing = true
	}
	return &Permit{b: b}, nil
}

// Success records a successful call. In half-open it closes the circuit and
// resets the failure counter.
func (p *Permit) Success() {
	p.once.Do(func() { p.b.recordSuccess() })
}

// Failure records a failed call. In closed state it trips the circuit once
// the threshold of consecutive failures is reached; in half-open it re-opens
// immediately and restarts the open timer.
func (p *Permit) Failure() {
	p.once.Do(func() { p.b.recordFailure() })
}

// Cancel releases the permit without recording an outcome. Use when the call
// never reached the upstream (rate limit exhausted, caller error), so the
// non-attempt neither heals nor harms the breaker's view of upstream health.
func (p *Permit) Cancel() {
	p.once.Do(func() { p.b.cancel() })
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.state = StateClosed
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.probing = false
		b.openLocked()
	}
}

func (b *Breaker) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		// Free the probe slot for the next caller.
		b.probing = false
	}
}

// State returns the current state, accounting for open-duration expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openDuration {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive countable failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed. Intended for administrative
// action only; normal operation never resets mid-life.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
}
