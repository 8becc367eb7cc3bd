// Client orchestration: cache, coalescer, circuit breaker, rate limiter,
// and retry policy composed into one Fetch entry point.
//
// Basic usage:
//
//	store := cache.NewMemory()
//	bucket := ratelimit.NewTokenBucket(100, time.Minute)
//	client := gatekit.NewClient(store, bucket, breaker.New(), retry.NewPolicy())
//
//	data, err := client.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
//	    return callUpstream(ctx)
//	}, gatekit.FetchWithTTL(5*time.Minute))
//
// Operations must be idempotent (read-only lookups): the retry policy may
// invoke them several times, and the coalescer may hand their result to
// callers that never invoked them at all.

package gatekit

import (
	"context"
	"errors"
	"time"

	"github.com/nhalm/canonlog"
	"github.com/nhalm/gatekit/breaker"
	"github.com/nhalm/gatekit/cache"
	"github.com/nhalm/gatekit/coalesce"
	"github.com/nhalm/gatekit/metrics"
	"github.com/nhalm/gatekit/ratelimit"
	"github.com/nhalm/gatekit/retry"
)

// Operation fetches a resource from the upstream. It must be idempotent.
type Operation func(ctx context.Context) ([]byte, error)

// Client is the gateway through which all upstream calls flow. One instance
// per process shares the rate limiter and breaker across every caller; it is
// safe for concurrent use. Components are constructor-injected so tests can
// build isolated instances.
type Client struct {
	store   cache.Store
	limiter ratelimit.Limiter
	breaker *breaker.Breaker
	policy  *retry.Policy
	group   coalesce.Group
	metrics *metrics.Metrics // nil-safe no-op when unset

	defaultTTL  time.Duration
	callTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCacheTTL sets the default freshness window for cached responses
// (default 5m). Override per call with FetchWithTTL.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.defaultTTL = d
		}
	}
}

// WithCallTimeout bounds one whole leader call, including retries and
// backoff sleeps (default 30s).
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithMetrics records the gateway's backpressure decisions (quota hits,
// circuit rejections, upstream errors, cache hits, call latency) on m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient composes a gateway from its parts. The limiter and breaker are
// process-wide shared state: create them once at startup and tear them down
// with the gateway.
func NewClient(store cache.Store, limiter ratelimit.Limiter, br *breaker.Breaker, policy *retry.Policy, opts ...ClientOption) *Client {
	c := &Client{
		store:       store,
		limiter:     limiter,
		breaker:     br,
		policy:      policy,
		defaultTTL:  5 * time.Minute,
		callTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fetchOptions struct {
	ttl  time.Duration
	cost int
}

// FetchOption configures a single Fetch call.
type FetchOption func(*fetchOptions)

// FetchWithTTL overrides the cache TTL for this call's result.
func FetchWithTTL(d time.Duration) FetchOption {
	return func(o *fetchOptions) {
		if d >= 0 {
			o.ttl = d
		}
	}
}

// FetchWithCost sets how many quota tokens each upstream attempt spends
// (default 1). Use for endpoints the provider bills at a higher rate.
func FetchWithCost(n int) FetchOption {
	return func(o *fetchOptions) {
		if n > 0 {
			o.cost = n
		}
	}
}

// Fetch returns the resource identified by fingerprint, from cache when
// fresh, otherwise through at most one upstream call shared among all
// concurrent callers of the same fingerprint.
//
// The caller's ctx bounds its own willingness to wait: on expiry the caller
// detaches (from the token queue or the in-flight broadcast) without
// disturbing anyone else. Shared work already in flight runs to completion
// under the gateway's own call timeout, and its result still lands in the
// cache. Failures surface as gateway errors: ErrCircuitOpen,
// ErrQuotaExhausted, ErrRetriesExhausted, or ErrUpstreamPermanent.
func (c *Client) Fetch(ctx context.Context, fingerprint string, op Operation, opts ...FetchOption) ([]byte, error) {
	options := fetchOptions{ttl: c.defaultTTL, cost: 1}
	for _, opt := range opts {
		opt(&options)
	}

	if entry, err := c.store.Get(ctx, fingerprint); err != nil {
		// Cache trouble degrades to a direct call; it never fails the
		// request.
		c.logError(ctx, ErrCacheUnavailable.With(err))
	} else if entry != nil {
		c.metrics.CacheHit()
		c.logField(ctx, "cache_hit", true)
		return entry.Value, nil
	}

	// Leader work is detached from this caller: cancellation abandons
	// interest, it does not abort work other callers may be waiting on.
	leaderCtx := context.WithoutCancel(ctx)

	value, shared, err := c.group.Do(ctx, fingerprint, func() ([]byte, error) {
		return c.lead(leaderCtx, fingerprint, op, options)
	})
	if shared {
		c.metrics.Coalesced()
		c.logField(ctx, "coalesced", true)
	}
	if err != nil {
		if _, ok := AsGatewayError(err); ok {
			return nil, err
		}
		// This caller gave up waiting on the broadcast: surface it as
		// backpressure, like waiting out a token acquire.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ErrQuotaExhausted.With(err)
		}
		return nil, err
	}
	return value, nil
}

// lead runs the upstream call on behalf of every coalesced caller:
// breaker permit, token acquire, and the operation itself, retried under the
// policy. Each retry attempt re-checks the breaker and re-acquires a token,
// so retries consume quota like first attempts do.
func (c *Client) lead(ctx context.Context, fingerprint string, op Operation, options fetchOptions) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var value []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		permit, err := c.breaker.Allow()
		if err != nil {
			// Tripping mid-retry aborts the loop with the breaker's
			// rejection, not a timeout.
			c.metrics.CircuitOpen()
			return retry.Permanent(ErrCircuitOpen.With(err))
		}

		if err := c.limiter.Acquire(ctx, options.cost); err != nil {
			permit.Cancel()
			c.metrics.QuotaExhausted()
			return retry.Permanent(ErrQuotaExhausted.With(err))
		}

		start := time.Now()
		result, err := op(ctx)
		c.metrics.ObserveCall(time.Since(start))
		if err != nil {
			if retry.Transient(err) {
				permit.Failure()
				c.metrics.UpstreamError(metrics.KindTransient)
			} else {
				// Client-side mistakes say nothing about
				// upstream health.
				permit.Cancel()
				c.metrics.UpstreamError(metrics.KindPermanent)
			}
			return err
		}
		permit.Success()
		value = result
		return nil
	})
	if err != nil {
		err = c.toGatewayError(err)
		c.logError(ctx, err)
		return nil, err
	}

	if err := c.store.Set(ctx, fingerprint, value, options.ttl); err != nil {
		// Losing a cache write costs quota later, not correctness now.
		c.logError(ctx, ErrCacheUnavailable.With(err))
	}
	return value, nil
}

// toGatewayError maps component failures onto the gateway taxonomy.
func (c *Client) toGatewayError(err error) error {
	if _, ok := AsGatewayError(err); ok {
		return err
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return ErrRetriesExhausted.With(err)
	}
	if errors.Is(err, ratelimit.ErrExhausted) {
		return ErrQuotaExhausted.With(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// The call timeout expired mid-attempt or mid-backoff.
		return ErrRetriesExhausted.With(err)
	}
	return ErrUpstreamPermanent.With(err)
}

func (c *Client) logField(ctx context.Context, key string, value any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAdd(ctx, key, value)
	}
}

func (c *Client) logError(ctx context.Context, err error) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
	}
}
