// Package providers defines the capability surface that every external LLM
// backend must implement, plus the content-block and request/response types
// shared by the routing core and the provider implementations.
//
// The core (packages gateway, internal/modelrouter, internal/variant) never
// speaks a provider's wire format directly: it builds a ModelRequest,
// chooses a Provider, and reads back a ProviderResponse. Concrete wire
// formats live in provider subpackages (providers/openai, providers/
// anthropic, providers/bedrock, providers/dummy).
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the speaker of a message. Only user and assistant turns
// appear in Input.Messages; the system prompt is a separate field.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider is the capability every LLM backend binding must implement.
type Provider interface {
	Name() string
	Infer(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
	// ThoughtBlockProviderType names the provider type used to scope Thought
	// content blocks (see ContentBlock filtering in internal/modelrouter).
	ThoughtBlockProviderType() string
}

// StreamingProvider is implemented by providers that can stream a response
// chunk-by-chunk instead of returning it all at once.
type StreamingProvider interface {
	Provider
	InferStream(ctx context.Context, req ProviderRequest) (<-chan StreamChunk, error)
}

// Embedder is implemented by providers that can embed text for the dicl
// variant's nearest-neighbor retrieval. Not every Provider implements this.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// BatchProvider is implemented by providers that support asynchronous batch
// submission. Batch lifecycle (submission, polling, result retrieval) is a
// collaborator interface only; no batch scheduler lives in this core.
type BatchProvider interface {
	Provider
	StartBatchInference(ctx context.Context, reqs []ProviderRequest) (BatchHandle, error)
	PollBatchInference(ctx context.Context, handle BatchHandle) (*BatchResult, error)
}

// BatchHandle identifies a submitted batch job with a specific provider.
type BatchHandle struct {
	ProviderName string
	BatchID      string
}

// BatchResult carries the outcome of a completed (or still-running) batch.
type BatchResult struct {
	Done      bool
	Responses []ProviderResponse
}

// --------------------------------------------------------------- Content ---

// ContentBlock is a single element of a message's content sequence. The
// concrete type identifies which block variant is present; callers should
// type-switch on it (see spec §3 for the list of block kinds).
type ContentBlock interface {
	contentBlockKind() string
}

// TextKind distinguishes the three shapes a Text block's payload may take.
type TextKind int

const (
	// TextKindString holds a plain string.
	TextKindString TextKind = iota
	// TextKindArguments holds a structured arguments object (validated
	// against the role's JSON schema as an object).
	TextKindArguments
	// TextKindLegacy holds an arbitrary JSON value passed through unchanged.
	TextKindLegacy
)

// Text is a text content block. Exactly one of String/Arguments/Legacy is
// populated, selected by Kind.
type Text struct {
	Kind      TextKind
	String    string
	Arguments json.RawMessage
	Legacy    json.RawMessage
}

func (Text) contentBlockKind() string { return "text" }

// JSONValue converts the block into the JSON value used for schema
// validation: arguments objects become an object, plain strings become a
// JSON string, and legacy values pass through unchanged.
func (t Text) JSONValue() (any, error) {
	switch t.Kind {
	case TextKindArguments:
		var v any
		if err := json.Unmarshal(t.Arguments, &v); err != nil {
			return nil, fmt.Errorf("text block arguments: %w", err)
		}
		return v, nil
	case TextKindLegacy:
		var v any
		if err := json.Unmarshal(t.Legacy, &v); err != nil {
			return nil, fmt.Errorf("text block legacy value: %w", err)
		}
		return v, nil
	default:
		return t.String, nil
	}
}

// RawText bypasses all schema validation; it is forwarded to the provider
// verbatim.
type RawText struct {
	Text string
}

func (RawText) contentBlockKind() string { return "raw_text" }

// ToolCall is a function invocation, either issued by a model (in an
// assistant message) or replayed as conversation history.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	// RawName/RawArguments preserve the provider's original (possibly
	// malformed) payload when Name/Arguments could not be parsed.
	RawName      string
	RawArguments string
}

func (ToolCall) contentBlockKind() string { return "tool_call" }

// ToolResult carries the result of a previously issued tool call.
type ToolResult struct {
	ID     string
	Name   string
	Result string
}

func (ToolResult) contentBlockKind() string { return "tool_result" }

// File is a base64-encoded file attachment.
type File struct {
	Data        string // base64
	MimeType    string
	StoragePath string // resolved storage location, if persisted
}

func (File) contentBlockKind() string { return "file" }

// Thought is a reasoning/"thinking" block. ProviderType, when set, scopes
// the block to a single provider (see filterForProvider in
// internal/modelrouter).
type Thought struct {
	Text         string
	ProviderType *string
}

func (Thought) contentBlockKind() string { return "thought" }

// Unknown is an opaque passthrough block. ModelProviderName, when set,
// scopes the block to a single model+provider pair.
type Unknown struct {
	Data              json.RawMessage
	ModelProviderName *string
}

func (Unknown) contentBlockKind() string { return "unknown" }

// ContentBlockKind returns the tag string for any ContentBlock.
func ContentBlockKind(b ContentBlock) string { return b.contentBlockKind() }

// ProviderError wraps an error returned by a specific provider attempt,
// tagged with whether the provider reported it as a client or server fault.
// Provider implementations construct these; the ModelRouter inspects
// Server to decide whether an attempt is worth retrying against the next
// provider in a model's routing list.
type ProviderError struct {
	ProviderName string
	StatusCode   int
	Server       bool // true: server-side fault, false: client-side (caller) fault
	Cause        error
}

func (e *ProviderError) Error() string {
	kind := "client"
	if e.Server {
		kind = "server"
	}
	return fmt.Sprintf("provider %s inference %s error (status %d): %v", e.ProviderName, kind, e.StatusCode, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// UnsupportedContentBlockError reports that a variant cannot embed a given
// content-block kind (e.g. dicl + file).
type UnsupportedContentBlockError struct {
	VariantName      string
	ContentBlockType string
}

func (e *UnsupportedContentBlockError) Error() string {
	return fmt.Sprintf("variant %q cannot embed content block of type %q", e.VariantName, e.ContentBlockType)
}

// ----------------------------------------------------------------- Input ---

// Message is one user or assistant turn.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// Input is the provider-neutral inference request body.
type Input struct {
	System   json.RawMessage // optional JSON value
	Messages []Message
}

// ------------------------------------------------------------- Requests ---

// JSONMode controls how a Json-typed function's output is elicited from the
// underlying model.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// ToolChoice mirrors the provider-neutral tool-choice directive.
type ToolChoice struct {
	Mode     string // "auto" | "none" | "required" | "specific"
	ToolName string // set when Mode == "specific"
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema for the tool's arguments
	Strict      bool
}

// ModelRequest is the provider-neutral shape a variant builds and a
// ModelRouter/Provider consumes. It is also the object hashed to produce a
// cache fingerprint (see internal/cachegate).
type ModelRequest struct {
	Messages          []Message
	System            *string
	Tools             []Tool
	ToolChoice        *ToolChoice
	ParallelToolCalls *bool
	JSONMode          JSONMode
	OutputSchema      json.RawMessage
	StopSequences     []string
	Temperature       *float64
	TopP              *float64
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	MaxTokens         *int
	Seed              *int64
	Stream            bool
	ExtraCacheKey     string
}

// ProviderRequest binds a ModelRequest to the specific model/provider pair
// it is about to be dispatched to. Provider implementations receive one of
// these per attempt; the model name and provider name are used for
// credential lookup, content-block scoping, and cache-key derivation.
type ProviderRequest struct {
	Request      *ModelRequest
	ModelName    string
	ProviderName string
	// Credentials keyed for "dynamic::<KEY>" credential locations (see
	// internal/credentials). The ModelRouter does not set this field and no
	// provider in this module reads it.
	DynamicCredentials map[string]string
}

// Usage carries token consumption statistics for a single model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderResponse is the normalized result of one provider call.
type ProviderResponse struct {
	Output       []ContentBlock
	RawRequest   string
	RawResponse  string
	Usage        Usage
	FinishReason *string
	Latency      time.Duration
}

// StreamChunk is one increment of a streaming provider response.
type StreamChunk struct {
	Output       []ContentBlock
	FinishReason *string
	Usage        *Usage
	// Error, when non-nil, signals the stream has failed; no further chunks
	// follow and the chunk carrying Error is the last one sent.
	Error error
}

// ModelInferenceResult is one entry in the ordered log of underlying model
// calls that produced an InferenceResult (spec §3).
type ModelInferenceResult struct {
	Output       []ContentBlock
	RawRequest   string
	RawResponse  string
	Usage        Usage
	ModelName    string
	ProviderName string
	FinishReason *string
	Latency      time.Duration
	Cached       bool
}
