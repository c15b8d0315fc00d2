package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/logging"
	"github.com/lattice-ai/inference-gateway/internal/metrics"
	"github.com/lattice-ai/inference-gateway/internal/schema"
	"github.com/lattice-ai/inference-gateway/internal/variant"
	"github.com/lattice-ai/inference-gateway/providers"
)

// Dispatcher is the entry point for running inferences against a loaded
// configuration: it validates an Input against a Function, samples a
// Variant by weight, runs it, and shapes the result for the caller.
type Dispatcher struct {
	build *BuildResult
}

// New builds a Dispatcher from a BuildResult produced by Build.
func New(build *BuildResult) *Dispatcher {
	return &Dispatcher{build: build}
}

// Infer runs a single inference against functionName. episodeID seeds
// sample_variant's deterministic draw; callers should reuse the same
// episodeID across the turns of one logical conversation so variant
// assignment is stable within it. dynamicOutputSchema overrides the
// function's static output schema for this call only, when non-nil (Json
// functions only). dynamicCreds is accepted but not read: a provider whose
// credential location is "dynamic::KEY" keeps the value resolved when Build
// ran, which is an empty string.
func (d *Dispatcher) Infer(ctx context.Context, functionName, episodeID string, input providers.Input, dynamicOutputSchema json.RawMessage, dynamicCreds map[string]string) (result *InferenceResult, err error) {
	start := time.Now()
	variantName := ""
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.InferencesTotal.WithLabelValues(functionName, variantName, status).Inc()
		metrics.InferenceDuration.WithLabelValues(functionName, variantName).Observe(time.Since(start).Seconds())
	}()

	fn, ok := d.build.Functions[functionName]
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown function %q", functionName)}
	}

	if err := validateInput(fn, input); err != nil {
		return nil, err
	}

	req := variant.Request{
		FunctionName: functionName,
		Messages:     input.Messages,
		System:       renderSystem(input.System),
		Siblings:     fn.Variants,
	}
	if fn.Type == FunctionTypeChat {
		req.ToolChoice = &fn.ToolChoice
		req.JSONMode = providers.JSONModeOff
	} else {
		req.JSONMode = providers.JSONModeOn
		if dynamicOutputSchema != nil {
			req.OutputSchema = dynamicOutputSchema
		} else if fn.OutputSchema != nil {
			req.OutputSchema = fn.OutputSchema.Raw()
		}
		req.ImplicitTool = fn.ImplicitToolCallConfig
	}

	deps := &variant.Deps{
		Models:          d.build.Models,
		Cache:           d.build.Cache,
		EmbeddingModels: d.build.EmbeddingModels,
		History:         d.build.History,
	}

	remaining := make(map[string]*variant.Config, len(fn.Variants))
	for name, v := range fn.Variants {
		remaining[name] = v
	}

	var lastErr error
	for len(remaining) > 0 {
		chosen, name := sampleVariant(remaining, functionName, episodeID)
		delete(remaining, name)
		variantName = name

		vres, verr := variant.Infer(ctx, chosen, deps, req)
		if verr != nil {
			lastErr = fmt.Errorf("variant %q: %w", name, verr)
			continue
		}
		return prepareResponse(ctx, fn, name, vres, dynamicOutputSchema)
	}
	if lastErr == nil {
		lastErr = &ConfigError{Message: fmt.Sprintf("function %q has no variants", functionName)}
	}
	return nil, lastErr
}

// InferStream runs functionName like Infer but returns the winning variant's
// output as a channel of incremental chunks instead of a single result.
// sample_variant's retry-on-failure behavior only covers the variant
// selection itself: once a variant's stream has started, a mid-stream
// provider error surfaces as a StreamChunk.Error rather than triggering a
// fresh draw, since any already-emitted chunks can't be un-sent to the
// caller. best_of_n_sampling and mixture_of_n variants never stream
// (*variant.UnsupportedStreamingError); if every remaining variant is one of
// those kinds, InferStream reports that error directly instead of retrying
// into an endless loop of the same failure.
func (d *Dispatcher) InferStream(ctx context.Context, functionName, episodeID string, input providers.Input, dynamicCreds map[string]string) (<-chan providers.StreamChunk, error) {
	start := time.Now()

	fn, ok := d.build.Functions[functionName]
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown function %q", functionName)}
	}

	if err := validateInput(fn, input); err != nil {
		return nil, err
	}

	req := variant.Request{
		FunctionName: functionName,
		Messages:     input.Messages,
		System:       renderSystem(input.System),
		Siblings:     fn.Variants,
	}
	if fn.Type == FunctionTypeChat {
		req.ToolChoice = &fn.ToolChoice
		req.JSONMode = providers.JSONModeOff
	} else {
		req.JSONMode = providers.JSONModeOn
		if fn.OutputSchema != nil {
			req.OutputSchema = fn.OutputSchema.Raw()
		}
		req.ImplicitTool = fn.ImplicitToolCallConfig
	}

	deps := &variant.Deps{
		Models:          d.build.Models,
		Cache:           d.build.Cache,
		EmbeddingModels: d.build.EmbeddingModels,
		History:         d.build.History,
	}

	remaining := make(map[string]*variant.Config, len(fn.Variants))
	for name, v := range fn.Variants {
		remaining[name] = v
	}

	var lastErr error
	for len(remaining) > 0 {
		chosen, name := sampleVariant(remaining, functionName, episodeID)
		delete(remaining, name)

		ch, err := variant.InferStream(ctx, chosen, deps, req)
		if err != nil {
			lastErr = fmt.Errorf("variant %q: %w", name, err)
			continue
		}
		return instrumentStream(ch, functionName, name, start), nil
	}
	if lastErr == nil {
		lastErr = &ConfigError{Message: fmt.Sprintf("function %q has no variants", functionName)}
	}
	metrics.InferencesTotal.WithLabelValues(functionName, "", "error").Inc()
	metrics.InferenceDuration.WithLabelValues(functionName, "").Observe(time.Since(start).Seconds())
	return nil, lastErr
}

// instrumentStream wraps ch so InferencesTotal/InferenceDuration are
// recorded once the stream is fully drained (or its last chunk carries an
// error), rather than at variant-selection time.
func instrumentStream(ch <-chan providers.StreamChunk, functionName, variantName string, start time.Time) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		for chunk := range ch {
			if chunk.Error != nil {
				status = "error"
			}
			out <- chunk
		}
		metrics.InferencesTotal.WithLabelValues(functionName, variantName, status).Inc()
		metrics.InferenceDuration.WithLabelValues(functionName, variantName).Observe(time.Since(start).Seconds())
	}()
	return out
}

// renderSystem projects Input.System (an optional JSON value) into the
// plain string a ModelRequest carries. No templating engine is implemented
// (see internal/variant's buildModelRequest): a JSON string value is used
// as-is, anything else is forwarded as its JSON text.
func renderSystem(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	s = string(raw)
	return &s
}

// validateInput enforces spec §4.1 "validate_input": every plain-string,
// arguments, or legacy text block is converted to its JSON value and
// checked against the role's schema; raw_text and non-text blocks are
// skipped. The system field is checked against SystemSchema iff either is
// present.
func validateInput(fn *FunctionConfig, input providers.Input) error {
	if fn.SystemSchema != nil && len(input.System) == 0 {
		return &InvalidMessageError{Message: "function declares a system_schema but input.system is absent"}
	}
	if fn.SystemSchema != nil {
		var sys any
		if err := json.Unmarshal(input.System, &sys); err != nil {
			return &InvalidMessageError{Message: fmt.Sprintf("system: invalid JSON: %v", err)}
		}
		if err := fn.SystemSchema.Validate(sys); err != nil {
			return &SchemaValidationError{Role: "system", Detail: err.Error()}
		}
	}

	for _, msg := range input.Messages {
		roleSchema := fn.UserSchema
		if msg.Role == providers.RoleAssistant {
			roleSchema = fn.AssistantSchema
		}
		if roleSchema == nil {
			continue
		}
		for _, block := range msg.Content {
			text, ok := block.(providers.Text)
			if !ok {
				continue
			}
			value, err := text.JSONValue()
			if err != nil {
				return &InvalidMessageError{Message: fmt.Sprintf("%s message: %v", msg.Role, err)}
			}
			if err := roleSchema.Validate(value); err != nil {
				return &SchemaValidationError{Role: string(msg.Role), Detail: err.Error()}
			}
		}
	}
	return nil
}

// sampleVariant implements spec §4.1 "sample_variant": a deterministic
// weighted draw seeded by SHA-256(function_name ∥ episode_id), ordered by
// candidate name to stay reproducible regardless of map iteration order.
func sampleVariant(candidates map[string]*variant.Config, functionName, episodeID string) (*variant.Config, string) {
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	for _, name := range names {
		total += candidates[name].EffectiveWeight()
	}

	t := uniform(functionName, episodeID)

	if total <= 0 {
		idx := int(t * float64(len(names)))
		if idx >= len(names) {
			idx = len(names) - 1
		}
		return candidates[names[idx]], names[idx]
	}

	threshold := t * total
	var cumulative float64
	for _, name := range names {
		cumulative += candidates[name].EffectiveWeight()
		if cumulative > threshold {
			return candidates[name], name
		}
	}

	// Numerical-precision fallback: reachable only when the cumulative sum
	// fails to exceed threshold by floating-point error. Any deterministic
	// choice is acceptable here; this picks the last name in sorted order
	// rather than emulating a specific iteration-order quirk.
	last := names[len(names)-1]
	return candidates[last], last
}

// uniform derives a value in [0, 1) from SHA-256(function_name ∥
// episode_id), truncated to its first 4 bytes as a big-endian uint32.
func uniform(functionName, episodeID string) float64 {
	sum := sha256.Sum256([]byte(functionName + episodeID))
	v := binary.BigEndian.Uint32(sum[0:4])
	return float64(v) / 4294967296.0 // 2^32
}

// prepareResponse implements spec §4.1 "prepare_response": Chat results
// wrap content as-is, Json results extract the last text/tool_call block as
// raw, parse it, and validate it against the effective output schema.
// Parse/validation failures never propagate as errors; they surface only as
// Parsed == nil, logged at WARN per the spec's §7 Open Question.
func prepareResponse(ctx context.Context, fn *FunctionConfig, variantName string, result *variant.Result, dynamicOutputSchema json.RawMessage) (*InferenceResult, error) {
	if fn.Type == FunctionTypeChat {
		return &InferenceResult{
			Type: InferenceResultChat,
			Chat: &ChatInferenceResult{
				Content:               result.Output,
				FinishReason:          result.FinishReason,
				Usage:                 result.Usage,
				ModelInferenceResults: result.ModelInferenceResults,
			},
		}, nil
	}

	rawIdx := -1
	for i := len(result.Output) - 1; i >= 0; i-- {
		switch result.Output[i].(type) {
		case providers.Text, providers.ToolCall:
			rawIdx = i
		}
		if rawIdx >= 0 {
			break
		}
	}

	jsonResult := &JSONInferenceResult{
		ModelInferenceResults: result.ModelInferenceResults,
	}
	if dynamicOutputSchema != nil {
		jsonResult.OutputSchema = dynamicOutputSchema
	} else if fn.OutputSchema != nil {
		jsonResult.OutputSchema = fn.OutputSchema.Raw()
	}

	if rawIdx < 0 {
		jsonResult.AuxiliaryContent = result.Output
		return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
	}

	idx := rawIdx
	jsonResult.JSONBlockIndex = &idx
	jsonResult.AuxiliaryContent = append(append([]providers.ContentBlock{}, result.Output[:idx]...), result.Output[idx+1:]...)

	raw, err := rawTextOf(result.Output[idx])
	if err != nil {
		logging.WarnOutputParsingFailure(ctx, fn.Name, variantName, err)
		return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
	}
	jsonResult.Raw = &raw

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logging.WarnOutputParsingFailure(ctx, fn.Name, variantName, fmt.Errorf("parse json output: %w", err))
		return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
	}

	effectiveSchema := fn.OutputSchema
	if dynamicOutputSchema != nil {
		compiled, err := schema.Compile("dynamic-output-schema", dynamicOutputSchema)
		if err != nil {
			logging.WarnOutputParsingFailure(ctx, fn.Name, variantName, err)
			return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
		}
		effectiveSchema = compiled
	}
	if effectiveSchema != nil {
		if err := effectiveSchema.Validate(parsed); err != nil {
			logging.WarnOutputParsingFailure(ctx, fn.Name, variantName, fmt.Errorf("validate json output: %w", err))
			return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
		}
	}

	jsonResult.Parsed = parsed
	return &InferenceResult{Type: InferenceResultJSON, JSON: jsonResult}, nil
}

// rawTextOf stringifies a Text or ToolCall block the way prepare_response
// expects: a Text block's already-string/JSON payload, or a ToolCall's
// arguments.
func rawTextOf(block providers.ContentBlock) (string, error) {
	switch b := block.(type) {
	case providers.Text:
		v, err := b.JSONValue()
		if err != nil {
			return "", err
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		raw, err := json.Marshal(v)
		return string(raw), err
	case providers.ToolCall:
		return string(b.Arguments), nil
	default:
		return "", fmt.Errorf("unsupported raw block type %T", block)
	}
}
