// Package bedrock implements providers.Provider against AWS Bedrock's
// InvokeModel / InvokeModelWithResponseStream runtime API, targeting
// Anthropic Claude models available through Bedrock. Credentials are
// resolved through the AWS default credential chain (CredentialLocation
// "sdk"); region is the only setting this adapter reads directly.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lattice-ai/inference-gateway/providers"
)

const anthropicVersion = "bedrock-2023-05-31"
const defaultRegion = "us-east-1"
const defaultMaxTokens = 1024

func init() {
	providers.RegisterFactory("bedrock", func(settings map[string]any, credential string) (providers.Provider, error) {
		return New(settings)
	})
}

// Provider binds a ProviderRequest to AWS Bedrock's runtime API.
type Provider struct {
	client *bedrockruntime.Client
	region string
}

// New builds a Provider for the given settings. Recognized settings:
// "region" (defaults to us-east-1).
func New(settings map[string]any) (*Provider, error) {
	region := defaultRegion
	if v, ok := settings["region"].(string); ok && v != "" {
		region = v
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Provider{client: bedrockruntime.NewFromConfig(cfg), region: region}, nil
}

func (p *Provider) Name() string                    { return "bedrock" }
func (p *Provider) ThoughtBlockProviderType() string { return "bedrock" }

type wireMessage struct {
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
	ToolText  string `json:"content,omitempty"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	StopSequences    []string      `json:"stop_sequences,omitempty"`
	Tools            []tool        `json:"tools,omitempty"`
}

type wireResponse struct {
	ID         string  `json:"id"`
	Content    []block `json:"content"`
	StopReason string  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Infer invokes the model identified by req.ModelName and returns its full
// response. Bedrock model IDs are passed through unchanged as the Bedrock
// "modelId"; only the anthropic.* family is supported by this adapter.
func (p *Provider) Infer(ctx context.Context, req providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if !strings.HasPrefix(req.ModelName, "anthropic.") {
		return nil, fmt.Errorf("bedrock: unsupported model family for %q (only anthropic.* is implemented)", req.ModelName)
	}

	body, err := json.Marshal(buildRequest(req.Request))
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.ModelName),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyError(req.ProviderName, err)
	}

	var wresp wireResponse
	if err := json.Unmarshal(out.Body, &wresp); err != nil {
		return nil, fmt.Errorf("bedrock: unmarshal response: %w", err)
	}

	finish := wresp.StopReason
	return &providers.ProviderResponse{
		Output:      outputBlocksFromWire(wresp.Content),
		RawRequest:  string(body),
		RawResponse: string(out.Body),
		Usage: providers.Usage{
			InputTokens:  wresp.Usage.InputTokens,
			OutputTokens: wresp.Usage.OutputTokens,
		},
		FinishReason: &finish,
	}, nil
}

// InferStream implements providers.StreamingProvider over Bedrock's
// bidirectional event stream.
func (p *Provider) InferStream(ctx context.Context, req providers.ProviderRequest) (<-chan providers.StreamChunk, error) {
	if !strings.HasPrefix(req.ModelName, "anthropic.") {
		return nil, fmt.Errorf("bedrock: streaming is only implemented for anthropic.* models, got %q", req.ModelName)
	}

	body, err := json.Marshal(buildRequest(req.Request))
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.ModelName),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyError(req.ProviderName, err)
	}

	ch := make(chan providers.StreamChunk)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var delta struct {
				Type  string `json:"type"`
				Delta struct {
					Type       string `json:"type"`
					Text       string `json:"text"`
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			if json.Unmarshal(chunk.Value.Bytes, &delta) != nil {
				continue
			}
			switch delta.Type {
			case "content_block_delta":
				if delta.Delta.Type == "text_delta" {
					ch <- providers.StreamChunk{Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: delta.Delta.Text}}}
				}
			case "message_delta":
				if delta.Delta.StopReason != "" {
					fr := delta.Delta.StopReason
					ch <- providers.StreamChunk{FinishReason: &fr}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{Error: classifyError(req.ProviderName, err)}
		}
	}()

	return ch, nil
}

func buildRequest(mr *providers.ModelRequest) wireRequest {
	maxTokens := defaultMaxTokens
	if mr.MaxTokens != nil {
		maxTokens = *mr.MaxTokens
	}
	wreq := wireRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Messages:         buildMessages(mr.Messages),
		Temperature:      mr.Temperature,
		TopP:             mr.TopP,
		StopSequences:    mr.StopSequences,
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
	return wreq
}

func buildMessages(msgs []providers.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == providers.RoleAssistant {
			role = "assistant"
		}
		out = append(out, wireMessage{Role: role, Content: buildContentBlocks(m.Content)})
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
			out = append(out, block{Type: "tool_result", ToolUseID: v.ID, ToolText: v.Result})
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

// classifyError wraps an AWS SDK error as a providers.ProviderError. The
// Bedrock runtime SDK does not expose a convenient status-code accessor on
// the generic error interface, so every failure is treated as server-side,
// matching the conservative default used for the OpenAI adapter.
func classifyError(providerName string, err error) error {
	return &providers.ProviderError{ProviderName: providerName, StatusCode: 0, Server: true, Cause: err}
}
