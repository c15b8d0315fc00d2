package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/cachegate"
	"github.com/lattice-ai/inference-gateway/internal/cachestore"
	"github.com/lattice-ai/inference-gateway/internal/historystore"
	"github.com/lattice-ai/inference-gateway/internal/metrics"
	"github.com/lattice-ai/inference-gateway/internal/modelrouter"
	"github.com/lattice-ai/inference-gateway/providers"
)

// Request is the provider-neutral shape an Engine resolves into one or more
// model calls.
type Request struct {
	FunctionName string
	Messages     []providers.Message
	System       *string
	Tools        []providers.Tool
	ToolChoice   *providers.ToolChoice
	JSONMode     providers.JSONMode
	OutputSchema []byte

	// ImplicitTool is the function's configured implicit_tool_call_config,
	// when set. json_mode == implicit_tool synthesizes a Tool from it (or,
	// when nil, a default "respond" tool) with Parameters replaced by the
	// effective output schema for this call.
	ImplicitTool *providers.Tool

	// Siblings is the full set of variants declared on FunctionName, keyed
	// by name. best_of_n_sampling and mixture_of_n resolve their Candidates
	// against it; every other variant kind ignores it.
	Siblings map[string]*Config
}

// Result is what running a variant produces: the final output content plus
// the ordered log of every underlying model call it took to produce it.
type Result struct {
	Output                []providers.ContentBlock
	FinishReason          *string
	Usage                 providers.Usage
	ModelInferenceResults []providers.ModelInferenceResult
}

// Deps bundles the collaborators a variant needs that are not part of its
// own Config: the live model routers, the cache gate sitting in front of
// them, and (for dicl) the embedding models and example store.
type Deps struct {
	Models          map[string]*modelrouter.Router
	Cache           *cachegate.Gate
	EmbeddingModels map[string]providers.Embedder
	History         historystore.Store
}

// UnsupportedStreamingError reports that a variant kind cannot stream (only
// chat_completion, chain_of_thought, and dicl resolve to a single model call
// that can be streamed directly; best_of_n and mixture_of_n need every
// candidate's complete output before they can judge or fuse).
type UnsupportedStreamingError struct {
	VariantName string
	Kind        Kind
}

func (e *UnsupportedStreamingError) Error() string {
	return fmt.Sprintf("variant %q (%s) does not support streaming", e.VariantName, e.Kind)
}

// modelNotFoundError reports a variant referencing a model name with no
// entry in Deps.Models.
type modelNotFoundError struct {
	VariantName string
	ModelName   string
}

func (e *modelNotFoundError) Error() string {
	return fmt.Sprintf("variant %q references unknown model %q", e.VariantName, e.ModelName)
}

// Infer runs cfg against req using deps, regardless of variant kind.
func Infer(ctx context.Context, cfg *Config, deps *Deps, req Request) (*Result, error) {
	switch cfg.Kind {
	case KindChatCompletion:
		return inferChatCompletion(ctx, cfg.Name, cfg.ChatCompletion, deps, req)
	case KindChainOfThought:
		return inferChainOfThought(ctx, cfg.Name, cfg.ChainOfThought, deps, req)
	case KindBestOfN:
		return inferBestOfN(ctx, cfg.Name, cfg.BestOfN, deps, req)
	case KindMixtureOfN:
		return inferMixtureOfN(ctx, cfg.Name, cfg.MixtureOfN, deps, req)
	case KindDICL:
		return inferDICL(ctx, cfg.Name, cfg.DICL, deps, req)
	default:
		return nil, fmt.Errorf("unknown variant kind %q", cfg.Kind)
	}
}

// InferStream runs cfg against req with streaming output, where supported.
func InferStream(ctx context.Context, cfg *Config, deps *Deps, req Request) (<-chan providers.StreamChunk, error) {
	switch cfg.Kind {
	case KindChatCompletion:
		return streamChatCompletion(ctx, cfg.Name, cfg.ChatCompletion, deps, req)
	case KindChainOfThought:
		return streamChatCompletion(ctx, cfg.Name, cfg.ChainOfThought.Inner, deps, req)
	case KindDICL:
		return streamDICL(ctx, cfg.Name, cfg.DICL, deps, req)
	default:
		return nil, &UnsupportedStreamingError{VariantName: cfg.Name, Kind: cfg.Kind}
	}
}

// buildModelRequest projects a Request plus sampling parameters into the
// ModelRequest a ModelRouter consumes. Template rendering of
// system/user/assistant templates is intentionally the identity function:
// no templating engine is implemented here, so Messages/System are forwarded
// as given. Operators needing templated prompts render them before calling
// the dispatcher.
func buildModelRequest(req Request, jsonMode *providers.JSONMode, temperature, topP, presencePenalty, frequencyPenalty *float64, maxTokens *int, seed *int64, stopSequences []string) *providers.ModelRequest {
	mr := &providers.ModelRequest{
		Messages:         req.Messages,
		System:           req.System,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		JSONMode:         req.JSONMode,
		OutputSchema:     req.OutputSchema,
		StopSequences:    stopSequences,
		Temperature:      temperature,
		TopP:             topP,
		PresencePenalty:  presencePenalty,
		FrequencyPenalty: frequencyPenalty,
		MaxTokens:        maxTokens,
		Seed:             seed,
	}
	if jsonMode != nil {
		mr.JSONMode = *jsonMode
	}
	if mr.JSONMode == providers.JSONModeImplicitTool && len(mr.OutputSchema) > 0 {
		mr.Tools, mr.ToolChoice = implicitToolCallConfig(req.ImplicitTool, mr.OutputSchema)
	}
	return mr
}

// implicitToolCallConfig synthesizes the Tool and ToolChoice a json_mode ==
// implicit_tool call uses in place of a native JSON response format: the
// model is forced to call a single tool whose parameters are the output
// schema, and its arguments become the Json function's raw output (see
// prepareResponse's ToolCall handling). cfg, when set, supplies the tool's
// name/description/strict flag; its Parameters are always replaced with the
// effective output schema for this call (static or dynamic).
func implicitToolCallConfig(cfg *providers.Tool, outputSchema json.RawMessage) ([]providers.Tool, *providers.ToolChoice) {
	tool := providers.Tool{
		Name:        "respond",
		Description: "Provide the structured response.",
		Strict:      true,
	}
	if cfg != nil {
		tool.Name = cfg.Name
		tool.Description = cfg.Description
		tool.Strict = cfg.Strict
	}
	tool.Parameters = outputSchema
	return []providers.Tool{tool}, &providers.ToolChoice{Mode: "specific", ToolName: tool.Name}
}

// callModel runs a single ModelRequest against modelName through the cache
// gate and the model's router, returning the resulting
// ModelInferenceResult.
func callModel(ctx context.Context, functionName, variantName, modelName string, deps *Deps, mr *providers.ModelRequest) (*providers.ModelInferenceResult, error) {
	router, ok := deps.Models[modelName]
	if !ok {
		return nil, &modelNotFoundError{VariantName: variantName, ModelName: modelName}
	}

	var key string
	if deps.Cache != nil {
		key = cachegate.Fingerprint(mr, modelName, variantName)
		if cached, ok := deps.Cache.Lookup(key); ok {
			metrics.CacheLookupsTotal.WithLabelValues(functionName, "hit").Inc()
			return &providers.ModelInferenceResult{
				Output:       cached.Output,
				RawRequest:   cached.RawRequest,
				RawResponse:  cached.RawResponse,
				Usage:        cached.Usage,
				ModelName:    cached.ModelName,
				ProviderName: cached.ProviderName,
				FinishReason: cached.FinishReason,
				Cached:       true,
			}, nil
		}
		metrics.CacheLookupsTotal.WithLabelValues(functionName, "miss").Inc()
	}

	result, err := router.Infer(ctx, variantName, mr)
	if err != nil {
		return nil, err
	}

	if deps.Cache != nil {
		deps.Cache.Store(key, &cachestore.Data{
			Output:       result.Output,
			RawRequest:   result.RawRequest,
			RawResponse:  result.RawResponse,
			Usage:        result.Usage,
			ModelName:    result.ModelName,
			ProviderName: result.ProviderName,
			FinishReason: result.FinishReason,
		})
	}
	return result, nil
}

// callModelWithRetry wraps callModel with retries's exponential-with-jitter
// backoff: NumRetries additional attempts beyond the first, each attempt's
// base delay doubling from 100ms and capped at MaxDelayS, then reduced by a
// random jitter of up to half of itself (the teacher's fallback strategy
// backs off the same way between providers; this applies the same idea
// across attempts at the variant's own model call). callModel reads the
// cache before calling the router, so a cache hit returns as a success and
// is never retried.
func callModelWithRetry(ctx context.Context, functionName, variantName, modelName string, deps *Deps, mr *providers.ModelRequest, retries RetryConfig) (*providers.ModelInferenceResult, error) {
	var lastErr error
	for attempt := 0; attempt <= retries.NumRetries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff(attempt, retries.MaxDelayS)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		result, err := callModel(ctx, functionName, variantName, modelName, deps, mr)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// retryBackoff computes attempt N's delay (attempt counts retries, so
// attempt 1 is the first retry): 100ms * 2^(attempt-1), capped at maxDelayS
// seconds when positive, then jittered by subtracting up to half of itself.
func retryBackoff(attempt int, maxDelayS float64) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
	if maxDelayS > 0 {
		if cap := time.Duration(maxDelayS * float64(time.Second)); base > cap {
			base = cap
		}
	}
	return base - time.Duration(rand.Int63n(int64(base)/2+1))
}
