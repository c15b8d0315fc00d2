package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/cachegate"
	"github.com/lattice-ai/inference-gateway/internal/historystore"
	"github.com/lattice-ai/inference-gateway/providers"
)

// rejectUnembeddableBlocks enforces that dicl only ever sees content it can
// fold into a text embedding: a File or Unknown block has no well-defined
// text representation, so dicl refuses the request outright rather than
// silently dropping it.
func rejectUnembeddableBlocks(variantName string, messages []providers.Message) error {
	for _, m := range messages {
		for _, b := range m.Content {
			switch b.(type) {
			case providers.File:
				return &providers.UnsupportedContentBlockError{VariantName: variantName, ContentBlockType: "file"}
			case providers.Unknown:
				return &providers.UnsupportedContentBlockError{VariantName: variantName, ContentBlockType: "unknown"}
			}
		}
	}
	return nil
}

// lastUserText flattens the most recent user message's plain-string Text
// blocks; this is the text embedded for nearest-neighbor retrieval.
func lastUserText(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != providers.RoleUser {
			continue
		}
		return flattenText(messages[i].Content)
	}
	return ""
}

// buildFewShotMessages renders each retrieved Example as a user/assistant
// message pair, in the order NearestNeighbors returned them (most similar
// first), so they read as prior turns of the same conversation.
func buildFewShotMessages(examples []historystore.Example) []providers.Message {
	out := make([]providers.Message, 0, len(examples)*2)
	for _, ex := range examples {
		out = append(out,
			providers.Message{Role: providers.RoleUser, Content: []providers.ContentBlock{
				providers.Text{Kind: providers.TextKindString, String: ex.Input},
			}},
			providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{
				providers.Text{Kind: providers.TextKindString, String: ex.Output},
			}},
		)
	}
	return out
}

// embedQuery calls embedder.Embed for a single query string and shapes the
// call into a ModelInferenceResult of its own, so it can appear in the
// ordered model-call log ahead of the chat call it feeds: embedding always
// precedes generation for dicl.
func embedQuery(ctx context.Context, cfg *DICLConfig, embedder providers.Embedder, query string) ([]float64, *providers.ModelInferenceResult, error) {
	start := time.Now()
	vectors, err := embedder.Embed(ctx, []string{query})
	latency := time.Since(start)
	if err != nil {
		return nil, nil, err
	}
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vectors")
	}

	rawReq, _ := json.Marshal(map[string]any{"input": []string{query}})
	rawResp, _ := json.Marshal(map[string]any{"dimensions": len(vectors[0])})
	embedResult := &providers.ModelInferenceResult{
		Output:      []providers.ContentBlock{providers.RawText{Text: query}},
		RawRequest:  string(rawReq),
		RawResponse: string(rawResp),
		ModelName:   cfg.EmbeddingModel,
		Latency:     latency,
	}
	return vectors[0], embedResult, nil
}

// resolveDICLRequest embeds the query, retrieves the K nearest examples, and
// projects everything into the Request a chat-completion-shaped model call
// expects. It also returns the embedding call's own ModelInferenceResult, so
// the caller can log it ahead of the chat call's.
func resolveDICLRequest(ctx context.Context, variantName string, cfg *DICLConfig, deps *Deps, req Request) (Request, *providers.ModelInferenceResult, error) {
	if err := rejectUnembeddableBlocks(variantName, req.Messages); err != nil {
		return Request{}, nil, err
	}

	embedder, ok := deps.EmbeddingModels[cfg.EmbeddingModel]
	if !ok {
		return Request{}, nil, fmt.Errorf("dicl %q references unknown embedding model %q", variantName, cfg.EmbeddingModel)
	}

	query := lastUserText(req.Messages)
	vector, embedResult, err := embedQuery(ctx, cfg, embedder, query)
	if err != nil {
		return Request{}, nil, fmt.Errorf("dicl %q: embed query: %w", variantName, err)
	}

	var examples []historystore.Example
	if deps.History != nil {
		examples, err = deps.History.NearestNeighbors(ctx, req.FunctionName, variantName, vector, cfg.K)
		if err != nil {
			return Request{}, nil, fmt.Errorf("dicl %q: nearest neighbors: %w", variantName, err)
		}
	}

	out := req
	out.Messages = append(buildFewShotMessages(examples), req.Messages...)
	if cfg.SystemInstructions != "" {
		sys := cfg.SystemInstructions
		if req.System != nil {
			sys = sys + "\n\n" + *req.System
		}
		out.System = &sys
	}
	return out, embedResult, nil
}

func inferDICL(ctx context.Context, variantName string, cfg *DICLConfig, deps *Deps, req Request) (*Result, error) {
	resolved, embedResult, err := resolveDICLRequest(ctx, variantName, cfg, deps, req)
	if err != nil {
		return nil, err
	}

	mr := buildModelRequest(resolved, cfg.JSONMode, cfg.Temperature, cfg.TopP, cfg.PresencePenalty, cfg.FrequencyPenalty, cfg.MaxTokens, cfg.Seed, cfg.StopSequences)
	result, err := callModelWithRetry(ctx, req.FunctionName, variantName, cfg.Model, deps, mr, cfg.Retries)
	if err != nil {
		return nil, err
	}

	return &Result{
		Output:                result.Output,
		FinishReason:          result.FinishReason,
		Usage:                 result.Usage,
		ModelInferenceResults: []providers.ModelInferenceResult{*embedResult, *result},
	}, nil
}

func streamDICL(ctx context.Context, variantName string, cfg *DICLConfig, deps *Deps, req Request) (<-chan providers.StreamChunk, error) {
	resolved, _, err := resolveDICLRequest(ctx, variantName, cfg, deps, req)
	if err != nil {
		return nil, err
	}

	mr := buildModelRequest(resolved, cfg.JSONMode, cfg.Temperature, cfg.TopP, cfg.PresencePenalty, cfg.FrequencyPenalty, cfg.MaxTokens, cfg.Seed, cfg.StopSequences)
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
