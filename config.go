package gateway

import (
	"time"

	"github.com/lattice-ai/inference-gateway/internal/circuitbreaker"
	"github.com/lattice-ai/inference-gateway/internal/variant"
	"github.com/lattice-ai/inference-gateway/providers"
)

// RawConfig is the on-disk configuration shape, decoded directly from YAML
// or JSON by LoadConfig. Build turns it into the immutable Models/Functions
// tables a Dispatcher runs against.
type RawConfig struct {
	Models      map[string]RawModel      `yaml:"models" json:"models"`
	Functions   map[string]RawFunction   `yaml:"functions" json:"functions"`
	Evaluations map[string]RawEvaluation `yaml:"evaluations" json:"evaluations"`
	Cache       RawCacheConfig           `yaml:"cache" json:"cache"`
	History     RawHistoryConfig         `yaml:"history" json:"history"`
}

// RawEvaluation is one entry of RawConfig.Evaluations (spec §4.4
// "EvaluatorSynthesizer"): the function being graded, plus the evaluators
// that grade each inference against it.
type RawEvaluation struct {
	FunctionName string                      `yaml:"function_name" json:"function_name"`
	Evaluators   map[string]RawEvaluatorEntry `yaml:"evaluators" json:"evaluators"`
}

// RawEvaluatorEntry is one evaluator inside a RawEvaluation.
type RawEvaluatorEntry struct {
	Type   string   `yaml:"type" json:"type"` // "exact_match" | "llm_judge"
	Cutoff *float64 `yaml:"cutoff" json:"cutoff"`

	// llm_judge only.
	InputFormat            string                `yaml:"input_format" json:"input_format"` // "serialized" | "messages"
	OutputType             string                `yaml:"output_type" json:"output_type"`   // "float" | "boolean"
	Optimize               string                `yaml:"optimize" json:"optimize"`         // "min" | "max"
	IncludeReferenceOutput bool                  `yaml:"include_reference_output" json:"include_reference_output"`
	Variants               map[string]RawVariant `yaml:"variants" json:"variants"`
}

// RawCacheConfig configures the Gate shared by every model router.
type RawCacheConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Backend  string `yaml:"backend" json:"backend"` // "memory" | "sqlite"
	DSN      string `yaml:"dsn" json:"dsn"`          // sqlite file path; ignored for memory
	Capacity int    `yaml:"capacity" json:"capacity"`
	TTLS     int64  `yaml:"ttl_s" json:"ttl_s"`
}

// RawHistoryConfig configures the dicl example store.
type RawHistoryConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "memory" | "postgres"
	DSN     string `yaml:"dsn" json:"dsn"`
}

// RawModel is one entry of RawConfig.Models (spec §3 "Model").
type RawModel struct {
	Routing                  []string               `yaml:"routing" json:"routing"`
	Providers                map[string]RawProvider `yaml:"providers" json:"providers"`
	NonStreamingTotalTimeout *int64                 `yaml:"non_streaming_total_timeout_ms" json:"non_streaming_total_timeout_ms"`
	StreamingTTFTTimeout     *int64                 `yaml:"streaming_ttft_timeout_ms" json:"streaming_ttft_timeout_ms"`
}

// RawProvider is one provider binding inside a RawModel's routing list.
type RawProvider struct {
	Type                     string                `yaml:"type" json:"type"`
	Settings                 map[string]any        `yaml:"settings" json:"settings"`
	CredentialLocation       string                `yaml:"api_key_location" json:"api_key_location"`
	NonStreamingTotalTimeout *int64                `yaml:"non_streaming_total_timeout_ms" json:"non_streaming_total_timeout_ms"`
	StreamingTTFTTimeout     *int64                `yaml:"streaming_ttft_timeout_ms" json:"streaming_ttft_timeout_ms"`
	CircuitBreaker           *RawCircuitBreaker     `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// RawCircuitBreaker mirrors circuitbreaker.New's parameters.
type RawCircuitBreaker struct {
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold" json:"success_threshold"`
	TimeoutS         int64  `yaml:"timeout_s" json:"timeout_s"`
}

// RawFunction is one entry of RawConfig.Functions (spec §3 "Function").
type RawFunction struct {
	Type        string                 `yaml:"type" json:"type"` // "chat" | "json"
	Description string                 `yaml:"description" json:"description"`
	Variants    map[string]RawVariant  `yaml:"variants" json:"variants"`

	SystemSchema    map[string]any `yaml:"system_schema" json:"system_schema"`
	UserSchema      map[string]any `yaml:"user_schema" json:"user_schema"`
	AssistantSchema map[string]any `yaml:"assistant_schema" json:"assistant_schema"`

	ToolNames         []string            `yaml:"tools" json:"tools"`
	ToolChoice        *providers.ToolChoice `yaml:"tool_choice" json:"tool_choice"`
	ParallelToolCalls *bool               `yaml:"parallel_tool_calls" json:"parallel_tool_calls"`

	OutputSchema           map[string]any  `yaml:"output_schema" json:"output_schema"`
	ImplicitToolCallConfig *providers.Tool `yaml:"implicit_tool_call_config" json:"implicit_tool_call_config"`
}

// RawVariant is a tagged union over the five variant kinds (spec §3
// "Variant", §4.3). Exactly one of the kind-specific fields should be set,
// selected by Kind.
type RawVariant struct {
	Kind   string   `yaml:"kind" json:"kind"`
	Weight *float64 `yaml:"weight" json:"weight"`

	NonStreamingTotalTimeout *int64 `yaml:"non_streaming_total_timeout_ms" json:"non_streaming_total_timeout_ms"`
	StreamingTTFTTimeout     *int64 `yaml:"streaming_ttft_timeout_ms" json:"streaming_ttft_timeout_ms"`

	// chat_completion / chain_of_thought.
	Model             string   `yaml:"model" json:"model"`
	SystemTemplate    string   `yaml:"system_template" json:"system_template"`
	UserTemplate      string   `yaml:"user_template" json:"user_template"`
	AssistantTemplate string   `yaml:"assistant_template" json:"assistant_template"`
	JSONMode          string   `yaml:"json_mode" json:"json_mode"`
	Temperature       *float64 `yaml:"temperature" json:"temperature"`
	TopP              *float64 `yaml:"top_p" json:"top_p"`
	PresencePenalty   *float64 `yaml:"presence_penalty" json:"presence_penalty"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty" json:"frequency_penalty"`
	MaxTokens         *int     `yaml:"max_tokens" json:"max_tokens"`
	Seed              *int64   `yaml:"seed" json:"seed"`
	StopSequences     []string `yaml:"stop_sequences" json:"stop_sequences"`
	NumRetries        int      `yaml:"num_retries" json:"num_retries"`
	MaxDelayS         float64  `yaml:"max_delay_s" json:"max_delay_s"`

	// chain_of_thought wraps an inner chat_completion-shaped variant; when
	// Kind == "chain_of_thought" the fields above describe Inner directly
	// rather than nesting, since chain_of_thought has no parameters of its
	// own beyond those.

	// best_of_n_sampling / mixture_of_n.
	Candidates []string    `yaml:"candidates" json:"candidates"`
	Evaluator  *RawVariant `yaml:"evaluator" json:"evaluator"` // best_of_n_sampling only
	Fuser      *RawVariant `yaml:"fuser" json:"fuser"`         // mixture_of_n only
	TimeoutS   float64     `yaml:"timeout_s" json:"timeout_s"`

	// dicl.
	EmbeddingModel     string `yaml:"embedding_model" json:"embedding_model"`
	K                  int    `yaml:"k" json:"k"`
	SystemInstructions string `yaml:"system_instructions" json:"system_instructions"`
}

func circuitBreakerFrom(raw *RawCircuitBreaker) *circuitbreaker.CircuitBreaker {
	if raw == nil {
		return circuitbreaker.New(0, 0, 0)
	}
	return circuitbreaker.New(raw.FailureThreshold, raw.SuccessThreshold, time.Duration(raw.TimeoutS)*time.Second)
}

func chatCompletionConfigFrom(raw RawVariant) *variant.ChatCompletionConfig {
	var jsonMode *providers.JSONMode
	if raw.JSONMode != "" {
		m := providers.JSONMode(raw.JSONMode)
		jsonMode = &m
	}
	return &variant.ChatCompletionConfig{
		Model:             raw.Model,
		SystemTemplate:    raw.SystemTemplate,
		UserTemplate:      raw.UserTemplate,
		AssistantTemplate: raw.AssistantTemplate,
		JSONMode:          jsonMode,
		Temperature:       raw.Temperature,
		TopP:              raw.TopP,
		PresencePenalty:   raw.PresencePenalty,
		FrequencyPenalty:  raw.FrequencyPenalty,
		MaxTokens:         raw.MaxTokens,
		Seed:              raw.Seed,
		StopSequences:     raw.StopSequences,
		Retries:           variant.RetryConfig{NumRetries: raw.NumRetries, MaxDelayS: raw.MaxDelayS},
	}
}
