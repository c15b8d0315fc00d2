package variant

import (
	"context"

	"github.com/lattice-ai/inference-gateway/internal/cachegate"
	"github.com/lattice-ai/inference-gateway/providers"
)

func inferChatCompletion(ctx context.Context, variantName string, cfg *ChatCompletionConfig, deps *Deps, req Request) (*Result, error) {
	mr := buildModelRequest(req, cfg.JSONMode, cfg.Temperature, cfg.TopP, cfg.PresencePenalty, cfg.FrequencyPenalty, cfg.MaxTokens, cfg.Seed, cfg.StopSequences)

	result, err := callModelWithRetry(ctx, req.FunctionName, variantName, cfg.Model, deps, mr, cfg.Retries)
	if err != nil {
		return nil, err
	}

	return &Result{
		Output:                result.Output,
		FinishReason:          result.FinishReason,
		Usage:                 result.Usage,
		ModelInferenceResults: []providers.ModelInferenceResult{*result},
	}, nil
}

func streamChatCompletion(ctx context.Context, variantName string, cfg *ChatCompletionConfig, deps *Deps, req Request) (<-chan providers.StreamChunk, error) {
	mr := buildModelRequest(req, cfg.JSONMode, cfg.Temperature, cfg.TopP, cfg.PresencePenalty, cfg.FrequencyPenalty, cfg.MaxTokens, cfg.Seed, cfg.StopSequences)
	mr.Stream = true

	router, ok := deps.Models[cfg.Model]
	if !ok {
		return nil, &modelNotFoundError{VariantName: variantName, ModelName: cfg.Model}
	}

	ch, providerName, err := router.InferStream(ctx, variantName, mr)
	if err != nil {
		return nil, err
	}

	if deps.Cache == nil {
		return ch, nil
	}
	key := cachegate.Fingerprint(mr, cfg.Model, variantName)
	return deps.Cache.TeeStream(ctx, key, cfg.Model, providerName, ch), nil
}
