package modelrouter

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/circuitbreaker"
	"github.com/lattice-ai/inference-gateway/providers"
	"github.com/lattice-ai/inference-gateway/providers/dummy"
)

// stubProvider is a minimal Provider whose behavior is fixed at
// construction, so tests can control exactly which provider in a routing
// list succeeds or fails independent of any other provider in the same
// test.
type stubProvider struct {
	name  string
	err   error
	delay time.Duration
}

func (s *stubProvider) Name() string                     { return s.name }
func (s *stubProvider) ThoughtBlockProviderType() string { return s.name }

func (s *stubProvider) Infer(ctx context.Context, _ providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ProviderResponse{Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: s.name}}}, nil
}

func req() *providers.ModelRequest {
	return &providers.ModelRequest{
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}},
		},
	}
}

func TestInferFirstProviderSucceeds(t *testing.T) {
	cfg := &Config{
		Name:      "m1",
		Routing:   []string{"p1"},
		Providers: map[string]*Entry{"p1": {Name: "p1", Provider: &stubProvider{name: "p1"}}},
	}
	res, err := New(cfg).Infer(context.Background(), "v1", req())
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.ProviderName != "p1" {
		t.Fatalf("expected provider p1, got %s", res.ProviderName)
	}
}

func TestInferFallsBackOnError(t *testing.T) {
	cfg := &Config{
		Name:    "m1",
		Routing: []string{"bad", "good"},
		Providers: map[string]*Entry{
			"bad":  {Name: "bad", Provider: &stubProvider{name: "bad", err: &ProviderError{ProviderName: "bad", StatusCode: 500, Server: true}}},
			"good": {Name: "good", Provider: &stubProvider{name: "good"}},
		},
	}
	res, err := New(cfg).Infer(context.Background(), "v1", req())
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.ProviderName != "good" {
		t.Fatalf("expected fallback to good, got %s", res.ProviderName)
	}
}

func TestInferAllProvidersExhausted(t *testing.T) {
	cfg := &Config{
		Name:    "m1",
		Routing: []string{"p1", "p2"},
		Providers: map[string]*Entry{
			"p1": {Name: "p1", Provider: &stubProvider{name: "p1", err: &ProviderError{ProviderName: "p1", StatusCode: 400}}},
			"p2": {Name: "p2", Provider: &stubProvider{name: "p2", err: &ProviderError{ProviderName: "p2", StatusCode: 500, Server: true}}},
		},
	}
	_, err := New(cfg).Infer(context.Background(), "v1", req())
	exhausted, ok := err.(*ProvidersExhaustedError)
	if !ok {
		t.Fatalf("expected ProvidersExhaustedError, got %#v", err)
	}
	if len(exhausted.PerProviderErrors) != 2 {
		t.Fatalf("expected 2 per-provider errors, got %d", len(exhausted.PerProviderErrors))
	}
}

func TestInferCircuitBreakerSkipsOpenProvider(t *testing.T) {
	breaker := circuitbreaker.New(1, 1, time.Hour)
	breaker.RecordFailure()

	cfg := &Config{
		Name:    "m1",
		Routing: []string{"open", "closed"},
		Providers: map[string]*Entry{
			"open":   {Name: "open", Provider: &stubProvider{name: "open"}, Breaker: breaker},
			"closed": {Name: "closed", Provider: &stubProvider{name: "closed"}},
		},
	}
	res, err := New(cfg).Infer(context.Background(), "v1", req())
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.ProviderName != "closed" {
		t.Fatalf("expected circuit-open provider to be skipped, got %s", res.ProviderName)
	}
}

func TestInferProviderTimeout(t *testing.T) {
	timeout := 10 * time.Millisecond
	cfg := &Config{
		Name:      "m1",
		Routing:   []string{"p1"},
		Providers: map[string]*Entry{"p1": {Name: "p1", Provider: &stubProvider{name: "p1", delay: time.Second}, NonStreamingTotalTimeout: &timeout}},
	}
	_, err := New(cfg).Infer(context.Background(), "v1", req())
	exhausted, ok := err.(*ProvidersExhaustedError)
	if !ok {
		t.Fatalf("expected ProvidersExhaustedError, got %#v", err)
	}
	if _, ok := exhausted.PerProviderErrors["p1"].(*TimeoutError); !ok {
		t.Fatalf("expected TimeoutError, got %#v", exhausted.PerProviderErrors["p1"])
	}
}

func TestInferStreamReturnsFirstSuccessfulProvider(t *testing.T) {
	d := dummy.New()
	cfg := &Config{
		Name:      "good",
		Routing:   []string{"p1"},
		Providers: map[string]*Entry{"p1": {Name: "p1", Provider: d}},
	}
	ch, providerName, err := New(cfg).InferStream(context.Background(), "v1", req())
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	if providerName != "p1" {
		t.Fatalf("expected p1, got %s", providerName)
	}
	var count int
	for range ch {
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one chunk")
	}
}
