// Package anthropic implements providers.Provider against Anthropic's
// Messages API. There is no official Go SDK in this module's dependency
// set, so this is a hand-rolled HTTP client.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lattice-ai/inference-gateway/providers"
)

const defaultBaseURL = "https://api.anthropic.com"
const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 1024

func init() {
	providers.RegisterFactory("anthropic", func(settings map[string]any, credential string) (providers.Provider, error) {
		return New(settings, credential), nil
	})
}

// Provider binds a ProviderRequest to Anthropic's /v1/messages endpoint.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New builds a Provider from a provider entry's free-form settings and
// resolved credential. Recognized settings: "base_url" overrides the API
// endpoint.
func New(settings map[string]any, credential string) *Provider {
	baseURL := defaultBaseURL
	if v, ok := settings["base_url"].(string); ok && v != "" {
		baseURL = v
	}
	return &Provider{
		apiKey:     credential,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (p *Provider) Name() string                    { return "anthropic" }
func (p *Provider) ThoughtBlockProviderType() string { return "anthropic" }

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content2  string `json:"content,omitempty"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type wireRequest struct {
	Model         string       `json:"model"`
	MaxTokens     int          `json:"max_tokens"`
	System        string       `json:"system,omitempty"`
	Messages      []message    `json:"messages"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Tools         []tool       `json:"tools,omitempty"`
	ToolChoice    *toolChoice  `json:"tool_choice,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string  `json:"id"`
	Role       string  `json:"role"`
	Content    []block `json:"content"`
	Model      string  `json:"model"`
	StopReason string  `json:"stop_reason"`
	Usage      usage   `json:"usage"`
}

type wireErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Infer runs req.Request as a single (non-streaming) messages call.
func (p *Provider) Infer(ctx context.Context, req providers.ProviderRequest) (*providers.ProviderResponse, error) {
	wreq := buildRequest(req.ModelName, req.Request, false)

	body, err := json.Marshal(wreq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	p.setHeaders(httpReq)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(req.ProviderName, 0, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyError(req.ProviderName, httpResp.StatusCode, apiError(httpResp.StatusCode, respBody))
	}

	var wresp wireResponse
	if err := json.Unmarshal(respBody, &wresp); err != nil {
		return nil, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	finish := wresp.StopReason
	return &providers.ProviderResponse{
		Output:       outputBlocksFromWire(wresp.Content),
		RawRequest:   string(body),
		RawResponse:  string(respBody),
		Usage:        providers.Usage{InputTokens: wresp.Usage.InputTokens, OutputTokens: wresp.Usage.OutputTokens},
		FinishReason: &finish,
	}, nil
}

// InferStream implements providers.StreamingProvider over Anthropic's SSE
// message stream.
func (p *Provider) InferStream(ctx context.Context, req providers.ProviderRequest) (<-chan providers.StreamChunk, error) {
	wreq := buildRequest(req.ModelName, req.Request, true)

	body, err := json.Marshal(wreq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	p.setHeaders(httpReq)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(req.ProviderName, 0, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, classifyError(req.ProviderName, httpResp.StatusCode, apiError(httpResp.StatusCode, respBody))
	}

	ch := make(chan providers.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = httpResp.Body.Close() }()

		var toolName, toolID string
		var toolArgs strings.Builder
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var raw map[string]any
			if json.Unmarshal([]byte(data), &raw) != nil {
				continue
			}

			switch raw["type"] {
			case "content_block_start":
				var evt struct {
					ContentBlock struct {
						Type string `json:"type"`
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"content_block"`
				}
				if json.Unmarshal([]byte(data), &evt) == nil && evt.ContentBlock.Type == "tool_use" {
					toolID, toolName = evt.ContentBlock.ID, evt.ContentBlock.Name
					toolArgs.Reset()
				}
			case "content_block_delta":
				var evt struct {
					Delta struct {
						Type        string `json:"type"`
						Text        string `json:"text"`
						PartialJSON string `json:"partial_json"`
					} `json:"delta"`
				}
				if json.Unmarshal([]byte(data), &evt) != nil {
					continue
				}
				switch evt.Delta.Type {
				case "text_delta":
					ch <- providers.StreamChunk{Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: evt.Delta.Text}}}
				case "input_json_delta":
					toolArgs.WriteString(evt.Delta.PartialJSON)
				}
			case "content_block_stop":
				if toolName != "" {
					ch <- providers.StreamChunk{Output: []providers.ContentBlock{providers.ToolCall{ID: toolID, Name: toolName, Arguments: json.RawMessage(toolArgs.String())}}}
					toolName, toolID = "", ""
				}
			case "message_delta":
				var evt struct {
					Delta struct {
						StopReason string `json:"stop_reason"`
					} `json:"delta"`
				}
				if json.Unmarshal([]byte(data), &evt) == nil && evt.Delta.StopReason != "" {
					fr := evt.Delta.StopReason
					ch <- providers.StreamChunk{FinishReason: &fr}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- providers.StreamChunk{Error: err}
		}
	}()

	return ch, nil
}

func (p *Provider) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")
}

func buildRequest(modelName string, mr *providers.ModelRequest, stream bool) wireRequest {
	maxTokens := defaultMaxTokens
	if mr.MaxTokens != nil {
		maxTokens = *mr.MaxTokens
	}
	wreq := wireRequest{
		Model:         modelName,
		MaxTokens:     maxTokens,
		Messages:      buildMessages(mr.Messages),
		Temperature:   mr.Temperature,
		TopP:          mr.TopP,
		StopSequences: mr.StopSequences,
		Stream:        stream,
	}
	if mr.System != nil {
		wreq.System = *mr.System
	}
	if len(mr.Tools) > 0 {
		wreq.Tools = make([]tool, 0, len(mr.Tools))
		for _, t := range mr.Tools {
			schema := t.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			wreq.Tools = append(wreq.Tools, tool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
	}
	if mr.ToolChoice != nil {
		switch mr.ToolChoice.Mode {
		case "none":
			// Anthropic has no explicit "none"; omitting tools/tool_choice achieves it.
			wreq.Tools = nil
		case "required":
			wreq.ToolChoice = &toolChoice{Type: "any"}
		case "specific":
			wreq.ToolChoice = &toolChoice{Type: "tool", Name: mr.ToolChoice.ToolName}
		default:
			wreq.ToolChoice = &toolChoice{Type: "auto"}
		}
	}
	return wreq
}

func buildMessages(msgs []providers.Message) []message {
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == providers.RoleAssistant {
			role = "assistant"
		}
		out = append(out, message{Role: role, Content: buildContentBlocks(m.Content)})
	}
	return out
}

func buildContentBlocks(blocks []providers.ContentBlock) []block {
	out := make([]block, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case providers.Text:
			if val, err := v.JSONValue(); err == nil {
				if s, ok := val.(string); ok {
					out = append(out, block{Type: "text", Text: s})
				} else if raw, err := json.Marshal(val); err == nil {
					out = append(out, block{Type: "text", Text: string(raw)})
				}
			}
		case providers.RawText:
			out = append(out, block{Type: "text", Text: v.Text})
		case providers.ToolCall:
			out = append(out, block{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Arguments})
		case providers.ToolResult:
			out = append(out, block{Type: "tool_result", ToolUseID: v.ID, Content2: v.Result})
		}
	}
	return out
}

func outputBlocksFromWire(blocks []block) []providers.ContentBlock {
	out := make([]providers.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, providers.Text{Kind: providers.TextKindString, String: b.Text})
		case "tool_use":
			out = append(out, providers.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}
	return out
}

func apiError(statusCode int, respBody []byte) error {
	var errResp wireErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
		return fmt.Errorf("anthropic API error (%d): %s", statusCode, errResp.Error.Message)
	}
	return fmt.Errorf("anthropic API error (%d): %s", statusCode, string(respBody))
}

// classifyError wraps a request failure as a providers.ProviderError;
// statusCode 0 means the failure happened before a response was received
// (network/timeout), which is always treated as server-side.
func classifyError(providerName string, statusCode int, err error) error {
	return &providers.ProviderError{
		ProviderName: providerName,
		StatusCode:   statusCode,
		Server:       statusCode == 0 || statusCode >= 500,
		Cause:        err,
	}
}

// Embed is not implemented: Anthropic has no embeddings endpoint.
