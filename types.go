// Package gateway is the entry point for the LLM inference gateway core: a
// FunctionDispatcher that validates an Input against a named Function,
// samples one of its Variants by weight, resolves the variant to one or
// more model calls through a fault-tolerant provider fan-out, and validates
// the result's shape against JSON schemas.
//
// Build a Dispatcher with New, register providers on the Models it
// references, and call Infer or InferStream. Configuration (the immutable
// function/model/variant tables) is loaded once at startup with LoadConfig.
package gateway

import (
	"encoding/json"

	"github.com/lattice-ai/inference-gateway/internal/evaluation"
	"github.com/lattice-ai/inference-gateway/internal/schema"
	"github.com/lattice-ai/inference-gateway/internal/variant"
	"github.com/lattice-ai/inference-gateway/providers"
)

// ReservedPrefix is forbidden at the start of any function, variant, or
// provider name (spec §3 invariants, §6 "Reserved naming"). It is also the
// prefix used for identifiers this package synthesizes itself (evaluator
// judge functions and their metrics), keeping the synthetic namespace
// disjoint from anything a caller can name.
const ReservedPrefix = "gateway::"

// -------------------------------------------------------------- Function ---

// FunctionType distinguishes the two function shapes.
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

// FunctionConfig is a named request shape against which callers submit
// inferences (spec §3 "Function").
type FunctionConfig struct {
	Name        string
	Type        FunctionType
	Variants    map[string]*variant.Config
	Description string

	SystemSchema    *schema.CompiledSchema
	UserSchema      *schema.CompiledSchema
	AssistantSchema *schema.CompiledSchema

	// Chat-only fields.
	ToolNames         []string
	ToolChoice        providers.ToolChoice
	ParallelToolCalls *bool

	// Json-only fields.
	OutputSchema           *schema.CompiledSchema
	ImplicitToolCallConfig *providers.Tool
}

// ------------------------------------------------------------- Variants ---
//
// The variant kinds themselves (chat_completion, best_of_n_sampling,
// mixture_of_n, dicl, chain_of_thought) are defined in internal/variant,
// which also owns the dispatch logic for running one. VariantConfig here is
// an alias so callers building a Config only need to import this package.
type VariantConfig = variant.Config

// ----------------------------------------------------------- Evaluation ---
//
// MetricConfig describes a metric an evaluator feeds (spec §4.4). The
// synthesis logic that turns a RawEvaluation into a judge FunctionConfig and
// a MetricConfig lives in internal/evaluation; this alias lets callers
// reference it without importing that package directly.
type MetricConfig = evaluation.MetricConfig

// -------------------------------------------------------- InferenceResult --

// InferenceResultType distinguishes a Chat result from a Json result.
type InferenceResultType string

const (
	InferenceResultChat InferenceResultType = "chat"
	InferenceResultJSON InferenceResultType = "json"
)

// ChatInferenceResult is the InferenceResult shape for Chat functions.
type ChatInferenceResult struct {
	Content               []providers.ContentBlock
	FinishReason          *string
	Usage                 providers.Usage
	ModelInferenceResults []providers.ModelInferenceResult
}

// JSONInferenceResult is the InferenceResult shape for Json functions.
type JSONInferenceResult struct {
	Raw                   *string
	Parsed                any // nil when absent, unparsable, or schema-invalid
	JSONBlockIndex        *int
	AuxiliaryContent      []providers.ContentBlock
	OutputSchema          json.RawMessage
	ModelInferenceResults []providers.ModelInferenceResult
}

// InferenceResult is the caller-facing result of a single Infer call (spec
// §3 "InferenceResult").
type InferenceResult struct {
	Type InferenceResultType
	Chat *ChatInferenceResult
	JSON *JSONInferenceResult
}
