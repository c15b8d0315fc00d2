package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/lattice-ai/inference-gateway"
	"github.com/lattice-ai/inference-gateway/providers"
)

// inferenceRequest is the HTTP wire shape callers POST to /inference. It
// mirrors providers.Input/Message/ContentBlock with JSON-friendly field
// names instead of the internal Go types (ContentBlock is an interface and
// has no direct JSON mapping).
type inferenceRequest struct {
	FunctionName        string             `json:"function_name"`
	EpisodeID           string             `json:"episode_id"`
	Stream              bool               `json:"stream"`
	System              json.RawMessage    `json:"system,omitempty"`
	Messages            []wireMessage      `json:"messages"`
	DynamicOutputSchema json.RawMessage    `json:"dynamic_output_schema,omitempty"`
	DynamicCredentials  map[string]string  `json:"dynamic_credentials,omitempty"`
}

type wireMessage struct {
	Role    string           `json:"role"`
	Content []wireContentBlock `json:"content"`
}

// wireContentBlock is a JSON-discriminated-union view of providers.ContentBlock.
// Type selects which of the remaining fields apply:
//
//	"text"        -> Text (plain string)
//	"arguments"   -> Arguments (validated against the role schema as an object)
//	"raw_text"    -> Text, bypasses schema validation
//	"tool_call"   -> ToolCallID/ToolName/Arguments
//	"tool_result" -> ToolCallID/ToolName/Text
type wireContentBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
}

func (b wireContentBlock) toContentBlock() (providers.ContentBlock, error) {
	switch b.Type {
	case "text", "":
		return providers.Text{Kind: providers.TextKindString, String: b.Text}, nil
	case "arguments":
		return providers.Text{Kind: providers.TextKindArguments, Arguments: b.Arguments}, nil
	case "raw_text":
		return providers.RawText{Text: b.Text}, nil
	case "tool_call":
		return providers.ToolCall{ID: b.ToolCallID, Name: b.ToolName, Arguments: b.Arguments}, nil
	case "tool_result":
		return providers.ToolResult{ID: b.ToolCallID, Name: b.ToolName, Result: b.Text}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
}

func contentBlockToWire(b providers.ContentBlock) wireContentBlock {
	switch v := b.(type) {
	case providers.Text:
		if v.Kind == providers.TextKindArguments {
			return wireContentBlock{Type: "arguments", Arguments: v.Arguments}
		}
		if val, err := v.JSONValue(); err == nil {
			if s, ok := val.(string); ok {
				return wireContentBlock{Type: "text", Text: s}
			}
		}
		return wireContentBlock{Type: "text", Text: v.String}
	case providers.RawText:
		return wireContentBlock{Type: "raw_text", Text: v.Text}
	case providers.ToolCall:
		return wireContentBlock{Type: "tool_call", ToolCallID: v.ID, ToolName: v.Name, Arguments: v.Arguments}
	case providers.ToolResult:
		return wireContentBlock{Type: "tool_result", ToolCallID: v.ID, ToolName: v.Name, Text: v.Result}
	default:
		return wireContentBlock{Type: providers.ContentBlockKind(b)}
	}
}

func (r inferenceRequest) toInput() (providers.Input, error) {
	input := providers.Input{System: r.System}
	for _, m := range r.Messages {
		role := providers.RoleUser
		if m.Role == string(providers.RoleAssistant) {
			role = providers.RoleAssistant
		}
		blocks := make([]providers.ContentBlock, 0, len(m.Content))
		for _, wb := range m.Content {
			cb, err := wb.toContentBlock()
			if err != nil {
				return providers.Input{}, err
			}
			blocks = append(blocks, cb)
		}
		input.Messages = append(input.Messages, providers.Message{Role: role, Content: blocks})
	}
	return input, nil
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireModelResult struct {
	ModelName    string    `json:"model_name"`
	ProviderName string    `json:"provider_name"`
	FinishReason *string   `json:"finish_reason,omitempty"`
	Usage        wireUsage `json:"usage"`
	LatencyMS    int64     `json:"latency_ms"`
	Cached       bool      `json:"cached"`
}

func modelResultsToWire(results []providers.ModelInferenceResult) []wireModelResult {
	out := make([]wireModelResult, 0, len(results))
	for _, r := range results {
		out = append(out, wireModelResult{
			ModelName:    r.ModelName,
			ProviderName: r.ProviderName,
			FinishReason: r.FinishReason,
			Usage:        wireUsage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
			LatencyMS:    r.Latency.Milliseconds(),
			Cached:       r.Cached,
		})
	}
	return out
}

type inferenceResponse struct {
	Type string `json:"type"`

	Content               []wireContentBlock `json:"content,omitempty"`
	FinishReason          *string            `json:"finish_reason,omitempty"`
	Usage                 *wireUsage         `json:"usage,omitempty"`
	ModelInferenceResults []wireModelResult  `json:"model_inference_results,omitempty"`

	Raw              *string            `json:"raw,omitempty"`
	Parsed           any                `json:"parsed,omitempty"`
	JSONBlockIndex   *int               `json:"json_block_index,omitempty"`
	AuxiliaryContent []wireContentBlock `json:"auxiliary_content,omitempty"`
}

func resultToWire(result *gateway.InferenceResult) inferenceResponse {
	resp := inferenceResponse{Type: string(result.Type)}
	switch result.Type {
	case gateway.InferenceResultChat:
		c := result.Chat
		blocks := make([]wireContentBlock, 0, len(c.Content))
		for _, b := range c.Content {
			blocks = append(blocks, contentBlockToWire(b))
		}
		resp.Content = blocks
		resp.FinishReason = c.FinishReason
		resp.Usage = &wireUsage{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
		resp.ModelInferenceResults = modelResultsToWire(c.ModelInferenceResults)
	case gateway.InferenceResultJSON:
		j := result.JSON
		resp.Raw = j.Raw
		resp.Parsed = j.Parsed
		resp.JSONBlockIndex = j.JSONBlockIndex
		aux := make([]wireContentBlock, 0, len(j.AuxiliaryContent))
		for _, b := range j.AuxiliaryContent {
			aux = append(aux, contentBlockToWire(b))
		}
		resp.AuxiliaryContent = aux
		resp.ModelInferenceResults = modelResultsToWire(j.ModelInferenceResults)
	}
	return resp
}

// handleInference serves POST /inference: decode a request, run it through
// the Dispatcher, and write back either a single JSON result or (when
// Stream is set) a text/event-stream of incremental chunks.
func handleInference(disp *gateway.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if req.Stream {
			ch, err := disp.InferStream(r.Context(), req.FunctionName, req.EpisodeID, input, req.DynamicCredentials)
			if err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			writeSSE(w, ch)
			return
		}

		result, err := disp.Infer(r.Context(), req.FunctionName, req.EpisodeID, input, req.DynamicOutputSchema, req.DynamicCredentials)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resultToWire(result))
	}
}

// writeSSE streams incremental chunks as SSE "data:" frames, one JSON
// object per chunk, terminated with a "[DONE]" sentinel frame.
func writeSSE(w http.ResponseWriter, ch <-chan providers.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for chunk := range ch {
		if chunk.Error != nil {
			data, _ := json.Marshal(map[string]string{"error": chunk.Error.Error()})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		blocks := make([]wireContentBlock, 0, len(chunk.Output))
		for _, b := range chunk.Output {
			blocks = append(blocks, contentBlockToWire(b))
		}
		data, _ := json.Marshal(map[string]any{
			"content":       blocks,
			"finish_reason": chunk.FinishReason,
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// evaluateRequest is the HTTP wire shape callers POST to /evaluate: a
// candidate output to grade against a configured evaluation, plus the
// original conversation it was produced from.
type evaluateRequest struct {
	EvaluationName   string          `json:"evaluation_name"`
	EpisodeID        string          `json:"episode_id"`
	System           json.RawMessage `json:"system,omitempty"`
	Messages         []wireMessage   `json:"messages"`
	CandidateOutput  string          `json:"candidate_output"`
	ReferenceOutput  *string         `json:"reference_output,omitempty"`
}

type evaluateResultWire struct {
	EvaluatorName string  `json:"evaluator_name"`
	MetricName    string  `json:"metric_name"`
	Value         float64 `json:"value"`
	Passed        bool    `json:"passed"`
}

func (r evaluateRequest) toInput() (providers.Input, error) {
	req := inferenceRequest{System: r.System, Messages: r.Messages}
	return req.toInput()
}

// handleEvaluate serves POST /evaluate: score a candidate output against
// every evaluator declared under the named evaluation. This runs entirely
// outside Infer's decision path; it never influences variant sampling.
func handleEvaluate(disp *gateway.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		results, err := disp.RunEvaluation(r.Context(), req.EvaluationName, req.EpisodeID, input, req.CandidateOutput, req.ReferenceOutput)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		out := make([]evaluateResultWire, 0, len(results))
		for _, res := range results {
			out = append(out, evaluateResultWire{
				EvaluatorName: res.EvaluatorName,
				MetricName:    res.MetricName,
				Value:         res.Value,
				Passed:        res.Passed,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"results": out})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusForError maps the gateway's own error types to HTTP status codes;
// anything else (provider/network faults) is a 502.
func statusForError(err error) int {
	switch err.(type) {
	case *gateway.ConfigError, *gateway.InvalidMessageError, *gateway.InvalidRequestError, *gateway.SchemaValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
