package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.QuotaExhausted()
	m.QuotaExhausted()
	m.CircuitOpen()
	m.UpstreamError(KindTransient)
	m.UpstreamError(KindTransient)
	m.UpstreamError(KindPermanent)
	m.CacheHit()
	m.Coalesced()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"quota exhausted", m.quotaExhausted, 2},
		{"circuit open", m.circuitOpen, 1},
		{"transient upstream errors", m.upstreamErrors.WithLabelValues(KindTransient), 2},
		{"permanent upstream errors", m.upstreamErrors.WithLabelValues(KindPermanent), 1},
		{"cache hits", m.cacheHits, 1},
		{"coalesced", m.coalesced, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("counter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_ObserveCall(t *testing.T) {
	m := New(nil)

	m.ObserveCall(250 * time.Millisecond)
	m.ObserveCall(3 * time.Second)

	if got := testutil.CollectAndCount(m.callDuration); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics

	// A nil recorder must be safe to call from uninstrumented clients.
	m.QuotaExhausted()
	m.CircuitOpen()
	m.UpstreamError(KindTransient)
	m.CacheHit()
	m.Coalesced()
	m.ObserveCall(time.Second)
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QuotaExhausted()
	m.UpstreamError(KindPermanent)
	m.ObserveCall(time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := make(map[string]bool, len(families))
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"gateway_quota_exhausted_total",
		"gateway_upstream_errors_total",
		"gateway_call_duration_seconds",
	} {
		if !found[name] {
			t.Errorf("registry missing %s after recording", name)
		}
	}
}
