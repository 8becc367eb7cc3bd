// Package retry executes idempotent operations with bounded exponential
// backoff and jitter.
//
// Only failures classified as transient (timeouts, connection resets,
// 5xx-class and 429 responses) are retried; everything else surfaces
// immediately. Delays follow min(initial * 2^(n-1), max) with ±20% jitter so
// concurrent callers do not retry in lockstep. A server-supplied Retry-After
// (from a 429) overrides the computed delay when it is longer.
//
//	policy := retry.NewPolicy()
//	err := policy.Do(ctx, func(ctx context.Context) error {
//	    return client.GetJSON(ctx, "/v2/profile", params, &out)
//	})
//
// Operations must be idempotent (GET-style lookups): the policy re-invokes
// them verbatim on every attempt. Exhausting attempts returns an
// *ExhaustedError wrapping the last transient cause.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts bounds the total attempts, including the first.
	DefaultMaxAttempts = 3

	// DefaultInitialDelay is the delay before the second attempt.
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps the computed backoff delay.
	DefaultMaxDelay = 10 * time.Second

	// jitterFactor randomizes each delay by ±20%.
	jitterFactor = 0.2
)

// ExhaustedError reports that every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// permanentError forces a transient-looking error to surface without retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the policy never retries it, regardless of how it
// would otherwise classify.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient reports whether err is worth retrying. An error classifies as
// transient when it implements Temporary() bool and reports true, is a
// network timeout, a connection reset, or a context deadline expiry.
// Errors wrapped with Permanent never classify as transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// RetryAfterFrom extracts a server-mandated minimum delay from err, if the
// error carries one (a 429 response with a Retry-After header).
func RetryAfterFrom(err error) (time.Duration, bool) {
	var ra interface{ RetryAfter() (time.Duration, bool) }
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0, false
}

// Policy retries idempotent operations with exponential backoff.
// Policies are immutable after construction and safe for concurrent use;
// each Do call gets its own backoff state.
type Policy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the total attempt bound, including the first
// (default 3).
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the delay before the second attempt (default 1s).
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.initialDelay = d
		}
	}
}

// WithMaxDelay caps the computed delay (default 10s).
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// NewPolicy creates a Policy with the given options.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the configured attempt bound.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Do runs op until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx expires while waiting between attempts. The final transient
// failure is wrapped in *ExhaustedError; permanent failures surface as-is
// after the attempt that produced them.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialDelay
	bo.RandomizationFactor = jitterFactor
	bo.Multiplier = 2
	bo.MaxInterval = p.maxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
		if !Transient(err) {
			return err
		}
		if attempt >= p.maxAttempts {
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			delay = p.maxDelay
		}
		// A 429 Retry-After is authoritative: never retry sooner than
		// the server asked.
		if ra, ok := RetryAfterFrom(err); ok && ra > delay {
			delay = ra
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		}
	}
}
