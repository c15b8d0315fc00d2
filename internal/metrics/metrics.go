// Package metrics registers the Prometheus metrics used by the inference
// gateway. Import this package (via blank import) from the server entry
// point to register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InferencesTotal counts completed Infer/InferStream calls labelled by
	// function, variant, and outcome ("success", "error").
	InferencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_inferences_total",
			Help: "Total number of inferences processed, by function/variant/status.",
		},
		[]string{"function", "variant", "status"},
	)

	// InferenceDuration observes end-to-end inference latency in seconds,
	// from FunctionDispatcher.Infer entry to InferenceResult return.
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_inference_duration_seconds",
			Help:    "End-to-end inference duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"function", "variant"},
	)

	// ModelCallsTotal counts individual model/provider attempts made by the
	// ModelRouter, labelled by model, provider, and outcome ("success",
	// "error"). Cache hits never reach the ModelRouter and are not counted.
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_model_calls_total",
			Help: "Total model/provider attempts by model, provider, and status.",
		},
		[]string{"model", "provider", "status"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"model", "provider"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"model", "provider"},
	)

	// ProviderErrors counts provider-attempt errors by provider and error
	// type ("client", "server", "timeout", "circuit_open").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by provider and error type.",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState tracks per-model-provider-entry circuit breaker
	// state as a gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per model/provider (0=closed 1=open 2=half_open).",
		},
		[]string{"model", "provider"},
	)

	// CacheLookupsTotal counts CacheGate lookups by function and result
	// ("hit", "miss").
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_lookups_total",
			Help: "Total cache lookups by function and result.",
		},
		[]string{"function", "result"},
	)

	// EvaluationRunsTotal counts evaluator invocations by evaluation name,
	// evaluator name, and outcome ("success", "error").
	EvaluationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_evaluation_runs_total",
			Help: "Total evaluator runs by evaluation, evaluator, and status.",
		},
		[]string{"evaluation", "evaluator", "status"},
	)
)
