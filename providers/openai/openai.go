// Package openai implements providers.Provider against OpenAI's chat
// completions and embeddings APIs via the official openai-go SDK.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lattice-ai/inference-gateway/providers"
)

func init() {
	providers.RegisterFactory("openai", func(settings map[string]any, credential string) (providers.Provider, error) {
		return New(settings, credential), nil
	})
}

// Provider binds a ProviderRequest to OpenAI's chat completions API.
type Provider struct {
	client oai.Client
}

// New builds a Provider from a provider entry's free-form settings and
// resolved credential. Recognized settings: "base_url" overrides the API
// endpoint (useful for OpenAI-compatible gateways).
func New(settings map[string]any, credential string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(credential)}
	if baseURL, ok := settings["base_url"].(string); ok && baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: oai.NewClient(opts...)}
}

func (p *Provider) Name() string                    { return "openai" }
func (p *Provider) ThoughtBlockProviderType() string { return "openai" }

// Infer runs req.Request as a single (non-streaming) chat completion.
func (p *Provider) Infer(ctx context.Context, req providers.ProviderRequest) (*providers.ProviderResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	rawReq, _ := json.Marshal(params)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(req.ProviderName, err)
	}

	rawResp, _ := json.Marshal(completion)

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: completion returned no choices")
	}
	choice := completion.Choices[0]

	output := outputBlocksFromMessage(choice.Message)
	var finishReason *string
	if fr := string(choice.FinishReason); fr != "" {
		finishReason = &fr
	}

	return &providers.ProviderResponse{
		Output:      output,
		RawRequest:  string(rawReq),
		RawResponse: string(rawResp),
		Usage: providers.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		FinishReason: finishReason,
	}, nil
}

// InferStream implements providers.StreamingProvider.
func (p *Provider) InferStream(ctx context.Context, req providers.ProviderRequest) (<-chan providers.StreamChunk, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan providers.StreamChunk)
	go func() {
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			sc := providers.StreamChunk{}
			if choice.Delta.Content != "" {
				sc.Output = []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: choice.Delta.Content}}
			}
			if fr := string(choice.FinishReason); fr != "" {
				sc.FinishReason = &fr
			}
			ch <- sc
		}
		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{Error: classifyError(req.ProviderName, err)}
		}
	}()
	return ch, nil
}

// Embed implements providers.Embedder against the embeddings endpoint, used
// by the dicl variant's nearest-neighbor retrieval.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModelTextEmbedding3Small,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classifyError("openai", err)
	}
	out := make([][]float64, len(result.Data))
	for _, d := range result.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func buildParams(req providers.ProviderRequest) (oai.ChatCompletionNewParams, error) {
	mr := req.Request
	params := oai.ChatCompletionNewParams{
		Model:    modelName(req.ModelName, mr),
		Messages: buildMessages(mr),
	}
	if mr.Temperature != nil {
		params.Temperature = oai.Float(*mr.Temperature)
	}
	if mr.TopP != nil {
		params.TopP = oai.Float(*mr.TopP)
	}
	if mr.MaxTokens != nil {
		params.MaxTokens = oai.Int(int64(*mr.MaxTokens))
	}
	if mr.Seed != nil {
		params.Seed = oai.Int(*mr.Seed)
	}
	if mr.PresencePenalty != nil {
		params.PresencePenalty = oai.Float(*mr.PresencePenalty)
	}
	if mr.FrequencyPenalty != nil {
		params.FrequencyPenalty = oai.Float(*mr.FrequencyPenalty)
	}
	if len(mr.StopSequences) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: mr.StopSequences}
	}

	switch mr.JSONMode {
	case providers.JSONModeOn, providers.JSONModeStrict:
		if len(mr.OutputSchema) > 0 {
			var schemaValue any
			if err := json.Unmarshal(mr.OutputSchema, &schemaValue); err != nil {
				return params, fmt.Errorf("openai: invalid output schema: %w", err)
			}
			params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
					JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   "output",
						Schema: schemaValue,
						Strict: oai.Bool(mr.JSONMode == providers.JSONModeStrict),
					},
				},
			}
		} else {
			params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &oai.ResponseFormatJSONObjectParam{}}
		}
	// JSONModeImplicitTool carries no ResponseFormat of its own: the variant
	// layer already synthesized mr.Tools/mr.ToolChoice to force the model
	// into a single tool call, whose arguments become the Json output.
	case providers.JSONModeImplicitTool:
	}

	if len(mr.Tools) > 0 {
		tools := make([]oai.ChatCompletionToolParam, 0, len(mr.Tools))
		for _, t := range mr.Tools {
			var paramSchema oai.FunctionParameters
			if len(t.Parameters) > 0 {
				_ = json.Unmarshal(t.Parameters, &paramSchema)
			}
			tools = append(tools, oai.ChatCompletionToolParam{
				Function: oai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: oai.String(t.Description),
					Parameters:  paramSchema,
					Strict:      oai.Bool(t.Strict),
				},
			})
		}
		params.Tools = tools
	}

	if mr.ToolChoice != nil {
		switch mr.ToolChoice.Mode {
		case "none":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("none")}
		case "required":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("required")}
		case "specific":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
					Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: mr.ToolChoice.ToolName},
				},
			}
		default:
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("auto")}
		}
	}

	return params, nil
}

// modelName prefers the model the ModelRouter resolved this attempt for;
// ModelRequest itself carries no model name (that's a ModelRouter/Config
// concern), so req.ModelName is authoritative.
func modelName(routedName string, mr *providers.ModelRequest) oai.ChatModel {
	return oai.ChatModel(routedName)
}

func buildMessages(mr *providers.ModelRequest) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(mr.Messages)+1)
	if mr.System != nil {
		out = append(out, oai.SystemMessage(*mr.System))
	}
	for _, msg := range mr.Messages {
		switch msg.Role {
		case providers.RoleUser:
			out = append(out, oai.UserMessage(flattenToString(msg.Content)))
		case providers.RoleAssistant:
			out = append(out, assistantMessage(msg.Content))
		}
	}
	return out
}

func assistantMessage(blocks []providers.ContentBlock) oai.ChatCompletionMessageParamUnion {
	var text string
	var toolCalls []oai.ChatCompletionMessageToolCallParam
	for _, block := range blocks {
		switch b := block.(type) {
		case providers.Text:
			if v, err := b.JSONValue(); err == nil {
				if s, ok := v.(string); ok {
					text += s
				} else if raw, err := json.Marshal(v); err == nil {
					text += string(raw)
				}
			}
		case providers.ToolCall:
			toolCalls = append(toolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: b.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      b.Name,
					Arguments: string(b.Arguments),
				},
			})
		}
	}
	msg := oai.AssistantMessage(text)
	if len(toolCalls) > 0 {
		msg.OfAssistant.ToolCalls = toolCalls
	}
	return msg
}

func flattenToString(blocks []providers.ContentBlock) string {
	var out string
	for _, block := range blocks {
		switch b := block.(type) {
		case providers.Text:
			v, err := b.JSONValue()
			if err != nil {
				continue
			}
			if s, ok := v.(string); ok {
				out += s
				continue
			}
			if raw, err := json.Marshal(v); err == nil {
				out += string(raw)
			}
		case providers.RawText:
			out += b.Text
		case providers.ToolResult:
			out += b.Result
		}
	}
	return out
}

func outputBlocksFromMessage(msg oai.ChatCompletionMessage) []providers.ContentBlock {
	var blocks []providers.ContentBlock
	if msg.Content != "" {
		blocks = append(blocks, providers.Text{Kind: providers.TextKindString, String: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, providers.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return blocks
}

// classifyError wraps an openai-go SDK error as a providers.ProviderError so
// the ModelRouter can decide whether falling back to the next provider in a
// model's routing list is worth attempting. The SDK surfaces request
// failures as plain errors rather than a typed status-code exception, so
// every failure here is treated as a server-side fault worth retrying
// against the next provider.
func classifyError(providerName string, err error) error {
	return &providers.ProviderError{ProviderName: providerName, StatusCode: 0, Server: true, Cause: err}
}
