package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lattice-ai/inference-gateway/providers"
)

func mockChatServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestNewAppliesBaseURLSetting(t *testing.T) {
	p := New(map[string]any{"base_url": "http://example.invalid"}, "sk-test")
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.Name() != "openai" {
		t.Fatalf("Name() = %q, want openai", p.Name())
	}
	if p.ThoughtBlockProviderType() != "openai" {
		t.Fatalf("ThoughtBlockProviderType() = %q, want openai", p.ThoughtBlockProviderType())
	}
}

func TestInferReturnsTextAndUsage(t *testing.T) {
	srv := mockChatServer(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hi there"}}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
	}`)
	defer srv.Close()

	p := New(map[string]any{"base_url": srv.URL}, "sk-test")
	req := providers.ProviderRequest{
		ModelName:    "gpt-4o-mini",
		ProviderName: "openai",
		Request: &providers.ModelRequest{
			Messages: []providers.Message{
				{Role: providers.RoleUser, Content: []providers.ContentBlock{
					providers.Text{Kind: providers.TextKindString, String: "hello"},
				}},
			},
		},
	}

	resp, err := p.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if resp.Usage.InputTokens != 3 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(resp.Output) != 1 {
		t.Fatalf("expected one output block, got %d", len(resp.Output))
	}
	text, ok := resp.Output[0].(providers.Text)
	if !ok {
		t.Fatalf("expected a Text output block, got %T", resp.Output[0])
	}
	if text.String != "hi there" {
		t.Fatalf("unexpected output text: %q", text.String)
	}
	if resp.FinishReason == nil || *resp.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %v", resp.FinishReason)
	}
}

func TestInferSurfacesToolCalls(t *testing.T) {
	srv := mockChatServer(t, `{
		"id": "chatcmpl-2",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}]
		}}],
		"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
	}`)
	defer srv.Close()

	p := New(map[string]any{"base_url": srv.URL}, "sk-test")
	req := providers.ProviderRequest{
		ModelName: "gpt-4o-mini",
		Request: &providers.ModelRequest{
			Messages: []providers.Message{
				{Role: providers.RoleUser, Content: []providers.ContentBlock{
					providers.Text{Kind: providers.TextKindString, String: "search"},
				}},
			},
			Tools: []providers.Tool{{Name: "lookup", Description: "looks things up", Parameters: json.RawMessage(`{"type":"object"}`)}},
		},
	}

	resp, err := p.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	var call *providers.ToolCall
	for _, b := range resp.Output {
		if tc, ok := b.(providers.ToolCall); ok {
			call = &tc
		}
	}
	if call == nil {
		t.Fatalf("expected a tool call output block, got %+v", resp.Output)
	}
	if call.Name != "lookup" || string(call.Arguments) != `{"q":"go"}` {
		t.Fatalf("unexpected tool call: %+v", call)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.4, 0.5]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := New(map[string]any{"base_url": srv.URL}, "sk-test")
	out, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(out))
	}
	if out[0][0] != 0.1 || out[1][0] != 0.4 {
		t.Fatalf("embeddings not ordered by index: %+v", out)
	}
}

func TestEmbedEmptyInputReturnsNil(t *testing.T) {
	p := New(nil, "sk-test")
	out, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil for empty input, got %+v", out)
	}
}

func TestBuildParamsJSONModeWithoutSchemaUsesJSONObject(t *testing.T) {
	params, err := buildParams(providers.ProviderRequest{
		ModelName: "gpt-4o-mini",
		Request: &providers.ModelRequest{
			JSONMode: providers.JSONModeOn,
			Messages: []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
		},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Fatalf("expected OfJSONObject to be set when no output schema is present")
	}
}

func TestBuildParamsJSONModeWithSchemaUsesJSONSchema(t *testing.T) {
	params, err := buildParams(providers.ProviderRequest{
		ModelName: "gpt-4o-mini",
		Request: &providers.ModelRequest{
			JSONMode:     providers.JSONModeStrict,
			OutputSchema: json.RawMessage(`{"type":"object"}`),
			Messages:     []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
		},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.ResponseFormat.OfJSONSchema == nil {
		t.Fatalf("expected OfJSONSchema to be set when an output schema is present")
	}
}

func TestBuildParamsToolChoiceSpecificNamesTheFunction(t *testing.T) {
	params, err := buildParams(providers.ProviderRequest{
		ModelName: "gpt-4o-mini",
		Request: &providers.ModelRequest{
			Messages:   []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
			Tools:      []providers.Tool{{Name: "respond", Parameters: json.RawMessage(`{"type":"object"}`)}},
			ToolChoice: &providers.ToolChoice{Mode: "specific", ToolName: "respond"},
		},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	named := params.ToolChoice.OfChatCompletionNamedToolChoice
	if named == nil || named.Function.Name != "respond" {
		t.Fatalf("expected tool_choice to name \"respond\", got %+v", params.ToolChoice)
	}
}

func TestInferNoChoicesIsAnError(t *testing.T) {
	srv := mockChatServer(t, `{"id": "chatcmpl-3", "choices": [], "usage": {}}`)
	defer srv.Close()

	p := New(map[string]any{"base_url": srv.URL}, "sk-test")
	_, err := p.Infer(context.Background(), providers.ProviderRequest{
		ModelName: "gpt-4o-mini",
		Request: &providers.ModelRequest{
			Messages: []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
		},
	})
	if err == nil {
		t.Fatal("expected an error for a completion with no choices")
	}
	if !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyErrorWrapsAsProviderError(t *testing.T) {
	err := classifyError("openai", context.DeadlineExceeded)
	pe, ok := err.(*providers.ProviderError)
	if !ok {
		t.Fatalf("expected *providers.ProviderError, got %T", err)
	}
	if !pe.Server {
		t.Fatalf("expected classifyError to mark failures as server-side")
	}
}
