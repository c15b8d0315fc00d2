// Package modelrouter resolves a ModelRequest against a Model's ordered
// provider routing list: it filters content blocks scoped to a specific
// provider, applies per-provider and per-model timeouts, falls back through
// the routing list on failure, and folds a circuit breaker into that
// fallback so a provider that is already known to be failing is skipped
// without waiting out its timeout again.
package modelrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/circuitbreaker"
	"github.com/lattice-ai/inference-gateway/internal/metrics"
	"github.com/lattice-ai/inference-gateway/providers"
)

// ProviderError is the type a Provider implementation returns to report a
// classified (client vs. server) fault; see providers.ProviderError.
type ProviderError = providers.ProviderError

// TimeoutError reports a bounded-time violation at one of the three nested
// scopes: model, provider, or variant.
type TimeoutError struct {
	Scope     string // "model" | "provider" | "variant"
	Name      string
	Budget    time.Duration
	Streaming bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %q timed out after %s (streaming=%v)", e.Scope, e.Name, e.Budget, e.Streaming)
}

// ProvidersExhaustedError reports that every provider in a model's routing
// list failed. PerProviderErrors preserves the error each provider raised.
type ProvidersExhaustedError struct {
	ModelName         string
	PerProviderErrors map[string]error
}

func (e *ProvidersExhaustedError) Error() string {
	return fmt.Sprintf("model %q: all %d provider(s) exhausted", e.ModelName, len(e.PerProviderErrors))
}

// Entry is one provider binding in a Model's routing list.
type Entry struct {
	Name                     string
	Provider                 providers.Provider
	NonStreamingTotalTimeout *time.Duration
	StreamingTTFTTimeout     *time.Duration
	Breaker                  *circuitbreaker.CircuitBreaker
}

// Config is a named ordered list of provider bindings sharing a logical
// identity (spec §3 "Model").
type Config struct {
	Name                     string
	Routing                  []string
	Providers                map[string]*Entry
	NonStreamingTotalTimeout *time.Duration
	StreamingTTFTTimeout     *time.Duration
}

// Router dispatches a single ModelRequest against a Config's routing list.
type Router struct {
	cfg *Config
}

// New builds a Router for cfg.
func New(cfg *Config) *Router { return &Router{cfg: cfg} }

// Infer tries each provider in the routing list in order, filtering content
// blocks scoped away from that provider, until one succeeds or all have
// failed.
func (r *Router) Infer(ctx context.Context, variantName string, req *providers.ModelRequest) (*providers.ModelInferenceResult, error) {
	if total := r.cfg.NonStreamingTotalTimeout; total != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *total)
		defer cancel()
	}

	perProviderErrors := make(map[string]error, len(r.cfg.Routing))

	for _, name := range r.cfg.Routing {
		entry, ok := r.cfg.Providers[name]
		if !ok {
			perProviderErrors[name] = fmt.Errorf("no provider entry named %q", name)
			continue
		}
		if entry.Breaker != nil && !entry.Breaker.Allow() {
			perProviderErrors[name] = circuitbreaker.ErrCircuitOpen
			metrics.ProviderErrors.WithLabelValues(name, "circuit_open").Inc()
			metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
			continue
		}

		filtered := filterForProvider(req, entry.Provider.ThoughtBlockProviderType(), r.cfg.Name+"::"+name)
		preq := providers.ProviderRequest{Request: filtered, ModelName: r.cfg.Name, ProviderName: name}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if entry.NonStreamingTotalTimeout != nil {
			attemptCtx, cancel = context.WithTimeout(ctx, *entry.NonStreamingTotalTimeout)
		}

		start := time.Now()
		resp, err := entry.Provider.Infer(attemptCtx, preq)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			timedOut := attemptCtx.Err() == context.DeadlineExceeded
			if entry.Breaker != nil {
				if timedOut {
					entry.Breaker.RecordTimeout()
				} else {
					entry.Breaker.RecordFailure()
				}
				metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
			}
			if timedOut {
				if entry.NonStreamingTotalTimeout != nil {
					err = &TimeoutError{Scope: "provider", Name: name, Budget: *entry.NonStreamingTotalTimeout}
				} else if r.cfg.NonStreamingTotalTimeout != nil {
					err = &TimeoutError{Scope: "model", Name: r.cfg.Name, Budget: *r.cfg.NonStreamingTotalTimeout}
				}
				metrics.ProviderErrors.WithLabelValues(name, "timeout").Inc()
			} else {
				metrics.ProviderErrors.WithLabelValues(name, errorType(err)).Inc()
			}
			perProviderErrors[name] = err
			metrics.ModelCallsTotal.WithLabelValues(r.cfg.Name, name, "error").Inc()
			continue
		}

		if entry.Breaker != nil {
			entry.Breaker.RecordSuccess()
			metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
		}
		metrics.ModelCallsTotal.WithLabelValues(r.cfg.Name, name, "success").Inc()
		metrics.TokensInput.WithLabelValues(r.cfg.Name, name).Add(float64(resp.Usage.InputTokens))
		metrics.TokensOutput.WithLabelValues(r.cfg.Name, name).Add(float64(resp.Usage.OutputTokens))

		return &providers.ModelInferenceResult{
			Output:       resp.Output,
			RawRequest:   resp.RawRequest,
			RawResponse:  resp.RawResponse,
			Usage:        resp.Usage,
			ModelName:    r.cfg.Name,
			ProviderName: name,
			FinishReason: resp.FinishReason,
			Latency:      time.Since(start),
			Cached:       false,
		}, nil
	}

	return nil, &ProvidersExhaustedError{ModelName: r.cfg.Name, PerProviderErrors: perProviderErrors}
}

// InferStream behaves like Infer but returns a live channel from the first
// provider that accepts the stream; the time-to-first-token budget, not the
// whole-stream duration, is what is bounded per provider. The model-level
// StreamingTTFTTimeout in Config is not applied here.
func (r *Router) InferStream(ctx context.Context, variantName string, req *providers.ModelRequest) (<-chan providers.StreamChunk, string, error) {
	perProviderErrors := make(map[string]error, len(r.cfg.Routing))

	for _, name := range r.cfg.Routing {
		entry, ok := r.cfg.Providers[name]
		if !ok {
			perProviderErrors[name] = fmt.Errorf("no provider entry named %q", name)
			continue
		}
		streamer, ok := entry.Provider.(providers.StreamingProvider)
		if !ok {
			perProviderErrors[name] = fmt.Errorf("provider %q does not support streaming", name)
			continue
		}
		if entry.Breaker != nil && !entry.Breaker.Allow() {
			perProviderErrors[name] = circuitbreaker.ErrCircuitOpen
			metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
			continue
		}

		filtered := filterForProvider(req, entry.Provider.ThoughtBlockProviderType(), r.cfg.Name+"::"+name)
		preq := providers.ProviderRequest{Request: filtered, ModelName: r.cfg.Name, ProviderName: name}

		ttftCtx := ctx
		var cancel context.CancelFunc
		if entry.StreamingTTFTTimeout != nil {
			ttftCtx, cancel = context.WithTimeout(ctx, *entry.StreamingTTFTTimeout)
		}

		ch, err := streamer.InferStream(ttftCtx, preq)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			if entry.Breaker != nil {
				if ttftCtx.Err() == context.DeadlineExceeded {
					entry.Breaker.RecordTimeout()
				} else {
					entry.Breaker.RecordFailure()
				}
				metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
			}
			perProviderErrors[name] = err
			continue
		}

		firstChunk, openCh, peekErr := peekFirstChunk(ttftCtx, ch)
		if cancel != nil {
			cancel()
		}
		if peekErr != nil {
			timedOut := ttftCtx.Err() == context.DeadlineExceeded
			if entry.Breaker != nil {
				if timedOut {
					entry.Breaker.RecordTimeout()
				} else {
					entry.Breaker.RecordFailure()
				}
				metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
			}
			if timedOut && entry.StreamingTTFTTimeout != nil {
				perProviderErrors[name] = &TimeoutError{Scope: "provider", Name: name, Budget: *entry.StreamingTTFTTimeout, Streaming: true}
			} else {
				perProviderErrors[name] = peekErr
			}
			continue
		}

		if entry.Breaker != nil {
			entry.Breaker.RecordSuccess()
			metrics.CircuitBreakerState.WithLabelValues(r.cfg.Name, name).Set(float64(entry.Breaker.State()))
		}
		metrics.ModelCallsTotal.WithLabelValues(r.cfg.Name, name, "success").Inc()
		return rejoin(firstChunk, openCh), name, nil
	}

	return nil, "", &ProvidersExhaustedError{ModelName: r.cfg.Name, PerProviderErrors: perProviderErrors}
}

// peekFirstChunk reads the first chunk off ch (bounding the read by ctx),
// returning it alongside the still-open channel so the remainder of the
// stream can be replayed to the caller unchanged.
func peekFirstChunk(ctx context.Context, ch <-chan providers.StreamChunk) (providers.StreamChunk, <-chan providers.StreamChunk, error) {
	select {
	case chunk, ok := <-ch:
		if !ok {
			return providers.StreamChunk{}, ch, fmt.Errorf("stream closed with no chunks")
		}
		if chunk.Error != nil {
			return providers.StreamChunk{}, ch, chunk.Error
		}
		return chunk, ch, nil
	case <-ctx.Done():
		return providers.StreamChunk{}, ch, ctx.Err()
	}
}

// rejoin produces a channel that yields first, then every remaining value
// from rest.
func rejoin(first providers.StreamChunk, rest <-chan providers.StreamChunk) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		out <- first
		for chunk := range rest {
			out <- chunk
		}
	}()
	return out
}

func errorType(err error) string {
	if pe, ok := err.(*ProviderError); ok {
		if pe.Server {
			return "server"
		}
		return "client"
	}
	return "server"
}
