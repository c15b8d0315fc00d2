package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCacheLookupsTotalCountsHitsAndMisses(t *testing.T) {
	CacheLookupsTotal.Reset()
	CacheLookupsTotal.WithLabelValues("greet", "hit").Inc()
	CacheLookupsTotal.WithLabelValues("greet", "hit").Inc()
	CacheLookupsTotal.WithLabelValues("greet", "miss").Inc()

	if got := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("greet", "hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("greet", "miss")); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}

func TestCircuitBreakerStateGaugeReportsLastSetValue(t *testing.T) {
	CircuitBreakerState.WithLabelValues("good-model", "p0").Set(1)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("good-model", "p0")); got != 1 {
		t.Fatalf("expected gauge value 1, got %v", got)
	}
}
