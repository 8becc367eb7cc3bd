// Package ratelimit provides token bucket rate limiting for outbound API calls.
//
// The bucket refills continuously at capacity/period tokens per second and
// serves callers in strict arrival order. Callers block until a token is
// available or their context expires, with no busy polling: waiters park on a
// channel and a single timer wakes the head of the queue when enough tokens
// have accrued.
//
// Basic usage:
//
//	bucket := ratelimit.NewTokenBucket(100, time.Minute)
//	defer bucket.Close()
//
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	if err := bucket.Acquire(ctx, 1); err != nil {
//	    return err // quota exhausted within the deadline
//	}
//
// For distributed deployments (Kubernetes), use NewRedisBucket so that all
// instances draw from the same upstream quota. The in-process bucket is only
// suitable for single-instance deployments and development.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExhausted is returned when a token cannot be acquired before the
// caller's deadline. Callers should backpressure their own upstream
// (typically by returning a 429-equivalent).
var ErrExhausted = errors.New("rate limit exhausted")

// Limiter grants permission to spend units of a shared call quota.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Acquire blocks until cost tokens are available or ctx expires.
	// It returns an error wrapping ErrExhausted when the deadline passes
	// (or provably would pass) before the tokens accrue.
	Acquire(ctx context.Context, cost int) error
}

type waiter struct {
	cost    float64
	ready   chan struct{}
	granted bool
}

// TokenBucket is an in-process token bucket limiter with FIFO fairness.
// Tokens refill lazily based on elapsed time, capped at capacity, and all
// state mutation happens under a single mutex so concurrent Acquire calls
// can never double-spend.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	capacity   float64
	rate       float64 // tokens per second
	waiters    []*waiter
	timer      *time.Timer
	closed     bool

	// now is replaceable in tests.
	now func() time.Time
}

// NewTokenBucket creates a bucket holding capacity tokens that refills
// continuously at capacity/period tokens per second. The bucket starts full.
func NewTokenBucket(capacity int, period time.Duration) *TokenBucket {
	if capacity <= 0 {
		panic("ratelimit: capacity must be positive")
	}
	if period <= 0 {
		panic("ratelimit: period must be positive")
	}
	b := &TokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(capacity) / period.Seconds(),
		now:      time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Acquire blocks until cost tokens are available or ctx expires.
// Callers are served in arrival order; a caller that cannot be satisfied
// before its deadline fails fast with ErrExhausted instead of queueing.
// A cost of zero or less is treated as one.
func (b *TokenBucket) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	need := float64(cost)
	if need > b.capacity {
		return fmt.Errorf("cost %d exceeds bucket capacity %d: %w", cost, int(b.capacity), ErrExhausted)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("acquire aborted: %w", ErrExhausted)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bucket closed: %w", ErrExhausted)
	}
	b.refillLocked()

	// Fast path: tokens available and nobody queued ahead.
	if len(b.waiters) == 0 && b.tokens >= need {
		b.tokens -= need
		b.mu.Unlock()
		return nil
	}

	// Fail fast when the wait provably exceeds the deadline. The wait
	// accounts for everyone already queued ahead of this caller.
	if deadline, ok := ctx.Deadline(); ok {
		shortfall := need + b.queuedLocked() - b.tokens
		wait := b.durationFor(shortfall)
		if b.now().Add(wait).After(deadline) {
			b.mu.Unlock()
			return fmt.Errorf("would need %s for %d token(s): %w", wait.Round(time.Millisecond), cost, ErrExhausted)
		}
	}

	w := &waiter{cost: need, ready: make(chan struct{})}
	b.waiters = append(b.waiters, w)
	b.armLocked()
	b.mu.Unlock()

	select {
	case <-w.ready:
		if !w.granted {
			return fmt.Errorf("bucket closed: %w", ErrExhausted)
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		granted := w.granted
		if !granted {
			b.removeLocked(w)
		}
		b.mu.Unlock()
		if granted {
			// Woken and cancelled at the same instant; the tokens
			// were already spent on this caller, so honor the grant.
			return nil
		}
		return fmt.Errorf("gave up waiting for %d token(s): %w", cost, ErrExhausted)
	}
}

// Tokens reports the currently available token count after a refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Close releases the refill timer and unblocks queued waiters with
// ErrExhausted. The bucket must not be used afterwards.
func (b *TokenBucket) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	for _, w := range b.waiters {
		close(w.ready)
	}
	b.waiters = nil
	return nil
}

// refillLocked credits tokens for elapsed time, capped at capacity.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed.Seconds()*b.rate)
	b.lastRefill = now
}

// dispatchLocked serves queued waiters in FIFO order while tokens last,
// then re-arms the wake-up timer for the new head of the queue.
func (b *TokenBucket) dispatchLocked() {
	b.refillLocked()
	for len(b.waiters) > 0 {
		w := b.waiters[0]
		if b.tokens < w.cost {
			break
		}
		b.tokens -= w.cost
		w.granted = true
		close(w.ready)
		b.waiters = b.waiters[1:]
	}
	b.armLocked()
}

// armLocked schedules a wake-up for when the head waiter can be satisfied.
func (b *TokenBucket) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.closed || len(b.waiters) == 0 {
		return
	}
	wait := b.durationFor(b.waiters[0].cost - b.tokens)
	if wait < time.Millisecond {
		// Guard against hot re-arming from float rounding.
		wait = time.Millisecond
	}
	b.timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		b.dispatchLocked()
	})
}

func (b *TokenBucket) removeLocked(target *waiter) {
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			if i == 0 {
				// The departed waiter may have been blocking a
				// smaller request behind it.
				b.dispatchLocked()
			}
			return
		}
	}
}

// queuedLocked sums the cost of every queued waiter.
func (b *TokenBucket) queuedLocked() float64 {
	var total float64
	for _, w := range b.waiters {
		total += w.cost
	}
	return total
}

// durationFor converts a token shortfall into a wait at the refill rate.
func (b *TokenBucket) durationFor(shortfall float64) time.Duration {
	if shortfall <= 0 {
		return 0
	}
	return time.Duration(shortfall / b.rate * float64(time.Second))
}
