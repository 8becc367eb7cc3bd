// Package metrics exposes Prometheus collectors for the gateway's
// backpressure decisions: quota hits, circuit rejections, upstream errors,
// cache effectiveness, and upstream call latency.
//
// A nil *Metrics is a valid no-op recorder, so callers instrument
// unconditionally and pay nothing when metrics are not wired:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	client := gatekit.NewClient(store, bucket, br, policy, gatekit.WithMetrics(m))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds recorded by UpstreamError.
const (
	KindTransient = "transient"
	KindPermanent = "permanent"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	quotaExhausted prometheus.Counter
	circuitOpen    prometheus.Counter
	upstreamErrors *prometheus.CounterVec
	cacheHits      prometheus.Counter
	coalesced      prometheus.Counter
	callDuration   prometheus.Histogram
}

// New creates the gateway collectors and registers them with reg.
// A nil reg creates unregistered collectors, useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quotaExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_quota_exhausted_total",
			Help: "Calls that failed because no rate limit token was available in time.",
		}),
		circuitOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_circuit_open_total",
			Help: "Calls rejected by the open circuit breaker.",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Upstream attempt failures by classification.",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Fetches served from the response cache.",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_coalesced_total",
			Help: "Fetches that shared another caller's in-flight upstream call.",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Latency of individual upstream attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.quotaExhausted,
			m.circuitOpen,
			m.upstreamErrors,
			m.cacheHits,
			m.coalesced,
			m.callDuration,
		)
	}
	return m
}

// QuotaExhausted counts a call that could not acquire a token in time.
func (m *Metrics) QuotaExhausted() {
	if m == nil {
		return
	}
	m.quotaExhausted.Inc()
}

// CircuitOpen counts a call rejected by the open breaker.
func (m *Metrics) CircuitOpen() {
	if m == nil {
		return
	}
	m.circuitOpen.Inc()
}

// UpstreamError counts a failed upstream attempt. kind is KindTransient or
// KindPermanent.
func (m *Metrics) UpstreamError(kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// CacheHit counts a fetch served from cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// Coalesced counts a fetch that joined an in-flight call.
func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// ObserveCall records the latency of one upstream attempt.
func (m *Metrics) ObserveCall(d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.Observe(d.Seconds())
}
