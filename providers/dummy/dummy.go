// Package dummy is a deterministic, network-free Provider used in tests and
// local development. Its behavior is selected entirely by the model name it
// is asked to serve, following the convention used throughout this module's
// test suite:
//
//	"good"        returns a fixed assistant text reply
//	"good_json"   returns a fixed JSON object as a text block
//	"good_score"  returns a fixed {"score": true} JSON object, for llm_judge tests
//	"good_tool"   returns a tool_call matching the single requested tool,
//	              with arguments {"answer":"42"}, for implicit_tool tests
//	"slow"        sleeps past any context deadline, so callers can exercise
//	              timeout handling deterministically
//	"error_client" returns a client ProviderError (HTTP 400-shaped)
//	"error_server" returns a server ProviderError (HTTP 500-shaped)
//	"echo"        echoes the last user message's text back as the reply
//
// Any other model name returns an error_client-shaped failure, so that a
// test which forgets to name a supported model fails loudly rather than
// silently succeeding.
package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-ai/inference-gateway/providers"
)

func init() {
	providers.RegisterFactory("dummy", func(settings map[string]any, _ string) (providers.Provider, error) {
		return New(), nil
	})
}

// Provider is the dummy backend.
type Provider struct{}

// New returns a dummy Provider. It takes no configuration: every behavior is
// selected by the requested model name.
func New() *Provider { return &Provider{} }

func (p *Provider) Name() string                     { return "dummy" }
func (p *Provider) ThoughtBlockProviderType() string { return "dummy" }

func (p *Provider) Infer(ctx context.Context, req providers.ProviderRequest) (*providers.ProviderResponse, error) {
	model := req.ModelName
	start := time.Now()

	switch model {
	case "good":
		return &providers.ProviderResponse{
			Output:       []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hello from the dummy provider"}},
			RawRequest:   "{}",
			RawResponse:  `{"text":"hello from the dummy provider"}`,
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: strPtr("stop"),
			Latency:      time.Since(start),
		}, nil

	case "good_json":
		payload := `{"answer":"42"}`
		return &providers.ProviderResponse{
			Output:       []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: payload}},
			RawRequest:   "{}",
			RawResponse:  payload,
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: strPtr("stop"),
			Latency:      time.Since(start),
		}, nil

	case "good_score":
		payload := `{"score":true}`
		return &providers.ProviderResponse{
			Output:       []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: payload}},
			RawRequest:   "{}",
			RawResponse:  payload,
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: strPtr("stop"),
			Latency:      time.Since(start),
		}, nil

	case "good_tool":
		toolName := "respond"
		if req.Request.ToolChoice != nil && req.Request.ToolChoice.ToolName != "" {
			toolName = req.Request.ToolChoice.ToolName
		}
		args := `{"answer":"42"}`
		return &providers.ProviderResponse{
			Output:       []providers.ContentBlock{providers.ToolCall{ID: "call_1", Name: toolName, Arguments: json.RawMessage(args)}},
			RawRequest:   "{}",
			RawResponse:  fmt.Sprintf(`{"tool_calls":[{"name":%q,"arguments":%q}]}`, toolName, args),
			Usage:        providers.Usage{InputTokens: 10, OutputTokens: 5},
			FinishReason: strPtr("tool_calls"),
			Latency:      time.Since(start),
		}, nil

	case "echo":
		text := lastUserText(req.Request.Messages)
		return &providers.ProviderResponse{
			Output:       []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: text}},
			RawRequest:   "{}",
			RawResponse:  `{}`,
			Usage:        providers.Usage{InputTokens: len(text), OutputTokens: len(text)},
			FinishReason: strPtr("stop"),
			Latency:      time.Since(start),
		}, nil

	case "slow":
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(24 * time.Hour):
			return nil, ctx.Err()
		}

	case "error_server":
		return nil, &providers.ProviderError{
			ProviderName: "dummy",
			StatusCode:   500,
			Server:       true,
			Cause:        errServer,
		}

	default: // includes "error_client" and any unrecognized name
		return nil, &providers.ProviderError{
			ProviderName: "dummy",
			StatusCode:   400,
			Server:       false,
			Cause:        errClient,
		}
	}
}

// InferStream implements providers.StreamingProvider by chunking the
// non-streaming response's text in two.
func (p *Provider) InferStream(ctx context.Context, req providers.ProviderRequest) (<-chan providers.StreamChunk, error) {
	resp, err := p.Infer(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan providers.StreamChunk, 2)
	go func() {
		defer close(ch)
		for _, block := range resp.Output {
			text, ok := block.(providers.Text)
			if !ok {
				ch <- providers.StreamChunk{Output: []providers.ContentBlock{block}}
				continue
			}
			mid := len(text.String) / 2
			if mid == 0 {
				ch <- providers.StreamChunk{Output: []providers.ContentBlock{text}}
				continue
			}
			select {
			case ch <- providers.StreamChunk{Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: text.String[:mid]}}}:
			case <-ctx.Done():
				ch <- providers.StreamChunk{Error: ctx.Err()}
				return
			}
			select {
			case ch <- providers.StreamChunk{Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: text.String[mid:]}}, FinishReason: resp.FinishReason, Usage: &resp.Usage}:
			case <-ctx.Done():
				ch <- providers.StreamChunk{Error: ctx.Err()}
				return
			}
		}
	}()
	return ch, nil
}

// Embed returns a deterministic fake vector per text, derived from a
// simple rolling hash of its bytes so identical inputs always embed
// identically and distinct inputs reliably land at distinct points.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = fakeEmbedding(text)
	}
	return out, nil
}

func fakeEmbedding(text string) []float64 {
	const dims = 8
	vec := make([]float64, dims)
	var h uint64 = 1469598103934665603
	for i := 0; i < len(text); i++ {
		h ^= uint64(text[i])
		h *= 1099511628211
		vec[i%dims] += float64(h % 1000)
	}
	return vec
}

func lastUserText(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != providers.RoleUser {
			continue
		}
		for _, block := range messages[i].Content {
			if t, ok := block.(providers.Text); ok {
				if t.Kind == providers.TextKindString {
					return t.String
				}
				var v any
				if err := json.Unmarshal(t.Arguments, &v); err == nil {
					if s, err := json.Marshal(v); err == nil {
						return string(s)
					}
				}
			}
		}
	}
	return ""
}

func strPtr(s string) *string { return &s }

var (
	errClient = clientErr("dummy: simulated client error")
	errServer = clientErr("dummy: simulated server error")
)

type clientErr string

func (e clientErr) Error() string { return string(e) }
