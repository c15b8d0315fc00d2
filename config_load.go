package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lattice-ai/inference-gateway/internal/cachegate"
	"github.com/lattice-ai/inference-gateway/internal/cachestore"
	"github.com/lattice-ai/inference-gateway/internal/credentials"
	"github.com/lattice-ai/inference-gateway/internal/evaluation"
	"github.com/lattice-ai/inference-gateway/internal/historystore"
	"github.com/lattice-ai/inference-gateway/internal/modelrouter"
	"github.com/lattice-ai/inference-gateway/internal/schema"
	"github.com/lattice-ai/inference-gateway/internal/variant"
	"github.com/lattice-ai/inference-gateway/providers"
	"time"
)

// LoadConfig reads and parses a gateway config file. Supported formats:
// JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*RawConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg RawConfig
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig checks RawConfig against the invariants in spec §3, ahead
// of Build actually resolving providers or compiling schemas.
func ValidateConfig(cfg *RawConfig) error {
	for modelName, model := range cfg.Models {
		if strings.HasPrefix(modelName, ReservedPrefix) {
			return &ConfigError{Message: fmt.Sprintf("model %q uses reserved prefix %q", modelName, ReservedPrefix)}
		}
		if len(model.Routing) == 0 {
			return &ConfigError{Message: fmt.Sprintf("model %q: routing must be non-empty", modelName)}
		}
		seen := make(map[string]bool, len(model.Routing))
		for _, name := range model.Routing {
			if strings.HasPrefix(name, ReservedPrefix) {
				return &ConfigError{Message: fmt.Sprintf("model %q: provider name %q uses reserved prefix", modelName, name)}
			}
			if seen[name] {
				return &ConfigError{Message: fmt.Sprintf("model %q: routing entry %q is duplicated", modelName, name)}
			}
			seen[name] = true
			if _, ok := model.Providers[name]; !ok {
				return &ConfigError{Message: fmt.Sprintf("model %q: routing entry %q has no provider entry", modelName, name)}
			}
		}
	}

	for fnName, fn := range cfg.Functions {
		if strings.HasPrefix(fnName, ReservedPrefix) {
			return &ConfigError{Message: fmt.Sprintf("function %q uses reserved prefix %q", fnName, ReservedPrefix)}
		}
		if fn.Type != "chat" && fn.Type != "json" {
			return &ConfigError{Message: fmt.Sprintf("function %q: unknown type %q", fnName, fn.Type)}
		}
		if fn.Type == "json" && fn.OutputSchema == nil {
			return &ConfigError{Message: fmt.Sprintf("json function %q requires an output_schema", fnName)}
		}
		for variantName, v := range fn.Variants {
			if strings.HasPrefix(variantName, ReservedPrefix) {
				return &ConfigError{Message: fmt.Sprintf("function %q: variant %q uses reserved prefix", fnName, variantName)}
			}
			if v.Weight != nil && *v.Weight < 0 {
				return &ConfigError{Message: fmt.Sprintf("function %q: variant %q has negative weight", fnName, variantName)}
			}
		}
	}

	for evalName, ev := range cfg.Evaluations {
		if _, ok := cfg.Functions[ev.FunctionName]; !ok {
			return &ConfigError{Message: fmt.Sprintf("evaluation %q: function %q not found", evalName, ev.FunctionName)}
		}
	}

	return nil
}

// BuildResult is the fully resolved runtime graph Build produces from a
// RawConfig: every model's Router, every function's FunctionConfig, and the
// shared cache/history collaborators a Dispatcher needs.
type BuildResult struct {
	Models          map[string]*modelrouter.Router
	EmbeddingModels map[string]providers.Embedder
	Functions       map[string]*FunctionConfig
	Metrics         map[string]MetricConfig
	Evaluations     map[string]map[string]evaluation.Synthesized
	Cache           *cachegate.Gate
	History         historystore.Store
}

// Build resolves cfg (already validated by ValidateConfig) into a
// BuildResult: it constructs every provider via providers.Build, resolves
// credentials through resolver, compiles every declared JSON schema, and
// wires variant configs to the model routers they reference.
func Build(cfg *RawConfig, resolver *credentials.Resolver) (*BuildResult, error) {
	models, embedders, err := buildModels(cfg.Models, resolver)
	if err != nil {
		return nil, err
	}

	cache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	history, err := buildHistory(cfg.History)
	if err != nil {
		return nil, err
	}

	functions := make(map[string]*FunctionConfig, len(cfg.Functions))
	for name, rawFn := range cfg.Functions {
		fn, err := buildFunction(name, rawFn)
		if err != nil {
			return nil, err
		}
		functions[name] = fn
	}

	metrics, evaluations, err := buildEvaluations(cfg.Evaluations, functions)
	if err != nil {
		return nil, err
	}

	return &BuildResult{Models: models, EmbeddingModels: embedders, Functions: functions, Metrics: metrics, Evaluations: evaluations, Cache: cache, History: history}, nil
}

// buildEvaluations synthesizes every llm_judge evaluator's judge function
// directly into functions (spec §4.4), and returns the full metric table
// (including exact_match evaluators, which synthesize no function) plus the
// evaluation/evaluator -> Synthesized table RunEvaluation dispatches against.
func buildEvaluations(raw map[string]RawEvaluation, functions map[string]*FunctionConfig) (map[string]MetricConfig, map[string]map[string]evaluation.Synthesized, error) {
	metrics := make(map[string]MetricConfig)
	evaluations := make(map[string]map[string]evaluation.Synthesized, len(raw))
	for evalName, ev := range raw {
		rawEvaluators := make(map[string]evaluation.RawEvaluator, len(ev.Evaluators))
		for name, e := range ev.Evaluators {
			variants := make(map[string]*variant.Config, len(e.Variants))
			for variantName, rawVariant := range e.Variants {
				v, err := buildVariant(variantName, rawVariant)
				if err != nil {
					return nil, nil, fmt.Errorf("evaluation %q: evaluator %q: %w", evalName, name, err)
				}
				variants[variantName] = v
			}
			rawEvaluators[name] = evaluation.RawEvaluator{
				Kind:                   evaluation.Kind(e.Type),
				Cutoff:                 e.Cutoff,
				InputFormat:            evaluation.InputFormat(e.InputFormat),
				Variants:               variants,
				OutputType:             evaluation.OutputType(e.OutputType),
				Optimize:               evaluation.Optimize(e.Optimize),
				IncludeReferenceOutput: e.IncludeReferenceOutput,
			}
		}

		synthesized, err := evaluation.Load(evalName, rawEvaluators, ReservedPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluation %q: %w", evalName, err)
		}
		evaluations[evalName] = synthesized

		for _, synth := range synthesized {
			metrics[synth.MetricName] = synth.Metric
			if synth.Kind != evaluation.KindLLMJudge {
				continue
			}

			judgeFn := &FunctionConfig{
				Name:     synth.FunctionName,
				Type:     FunctionTypeJSON,
				Variants: synth.Variants,
			}
			if synth.UserSchema != nil {
				judgeFn.UserSchema, err = schema.Compile(synth.FunctionName+"::user", synth.UserSchema)
				if err != nil {
					return nil, nil, err
				}
			}
			judgeFn.OutputSchema, err = schema.Compile(synth.FunctionName+"::output", synth.OutputSchema)
			if err != nil {
				return nil, nil, err
			}
			functions[synth.FunctionName] = judgeFn
		}
	}
	return metrics, evaluations, nil
}

func buildCache(raw RawCacheConfig) (*cachegate.Gate, error) {
	if !raw.Enabled {
		return cachegate.New(nil, 0, false), nil
	}

	var store cachestore.Store
	var err error
	switch raw.Backend {
	case "", "memory":
		capacity := raw.Capacity
		if capacity <= 0 {
			capacity = 1000
		}
		store = cachestore.NewMemory(capacity)
	case "sqlite":
		store, err = cachestore.NewSQLite(raw.DSN)
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown cache backend %q", raw.Backend)}
	}
	if err != nil {
		return nil, fmt.Errorf("build cache store: %w", err)
	}

	ttl := time.Duration(raw.TTLS) * time.Second
	return cachegate.New(store, ttl, true), nil
}

func buildHistory(raw RawHistoryConfig) (historystore.Store, error) {
	switch raw.Backend {
	case "", "memory":
		return historystore.NewMemory(), nil
	case "postgres":
		return historystore.NewPostgres(raw.DSN)
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown history backend %q", raw.Backend)}
	}
}

func buildModels(raw map[string]RawModel, resolver *credentials.Resolver) (map[string]*modelrouter.Router, map[string]providers.Embedder, error) {
	routers := make(map[string]*modelrouter.Router, len(raw))
	embedders := make(map[string]providers.Embedder, len(raw))
	for modelName, rawModel := range raw {
		entries := make(map[string]*modelrouter.Entry, len(rawModel.Providers))
		for providerName, rawProvider := range rawModel.Providers {
			// Providers are built once at config-load time: a "dynamic::"
			// location can't be resolved yet (it needs a per-request
			// credential map), so validation is skipped for it here and it
			// resolves to "" — see DESIGN.md for the resulting limitation.
			loc, err := credentials.ParseLocation(rawProvider.CredentialLocation)
			if err != nil {
				return nil, nil, fmt.Errorf("model %q provider %q: %w", modelName, providerName, err)
			}
			credential, err := resolver.Resolve(rawProvider.Type, rawProvider.CredentialLocation, nil, loc.Kind == "dynamic")
			if err != nil {
				return nil, nil, fmt.Errorf("model %q provider %q: %w", modelName, providerName, err)
			}
			provider, err := providers.Build(rawProvider.Type, rawProvider.Settings, credential)
			if err != nil {
				return nil, nil, fmt.Errorf("model %q provider %q: %w", modelName, providerName, err)
			}
			entries[providerName] = &modelrouter.Entry{
				Name:                     providerName,
				Provider:                 provider,
				NonStreamingTotalTimeout: msToDuration(rawProvider.NonStreamingTotalTimeout),
				StreamingTTFTTimeout:     msToDuration(rawProvider.StreamingTTFTTimeout),
				Breaker:                  circuitBreakerFrom(rawProvider.CircuitBreaker),
			}
		}
		routers[modelName] = modelrouter.New(&modelrouter.Config{
			Name:                     modelName,
			Routing:                  rawModel.Routing,
			Providers:                entries,
			NonStreamingTotalTimeout: msToDuration(rawModel.NonStreamingTotalTimeout),
			StreamingTTFTTimeout:     msToDuration(rawModel.StreamingTTFTTimeout),
		})
		// dicl's embedding_model names an ordinary model whose primary
		// (first-routed) provider happens to implement Embedder. Embedding
		// bypasses the router's fallback/timeout machinery entirely: a
		// retrieval step has no meaningful partial-failure fallback story.
		if len(rawModel.Routing) > 0 {
			if entry, ok := entries[rawModel.Routing[0]]; ok {
				if embedder, ok := entry.Provider.(providers.Embedder); ok {
					embedders[modelName] = embedder
				}
			}
		}
	}
	return routers, embedders, nil
}

func msToDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func buildFunction(name string, raw RawFunction) (*FunctionConfig, error) {
	fn := &FunctionConfig{
		Name:        name,
		Type:        FunctionType(raw.Type),
		Description: raw.Description,
		Variants:    make(map[string]*variant.Config, len(raw.Variants)),

		ToolNames:              raw.ToolNames,
		ParallelToolCalls:      raw.ParallelToolCalls,
		ImplicitToolCallConfig: raw.ImplicitToolCallConfig,
	}
	if raw.ToolChoice != nil {
		fn.ToolChoice = *raw.ToolChoice
	}

	for variantName, rawVariant := range raw.Variants {
		v, err := buildVariant(variantName, rawVariant)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", name, err)
		}
		fn.Variants[variantName] = v
	}

	var err error
	if fn.SystemSchema, err = compileOptionalSchema(name+"::system", raw.SystemSchema); err != nil {
		return nil, err
	}
	if fn.UserSchema, err = compileOptionalSchema(name+"::user", raw.UserSchema); err != nil {
		return nil, err
	}
	if fn.AssistantSchema, err = compileOptionalSchema(name+"::assistant", raw.AssistantSchema); err != nil {
		return nil, err
	}
	if fn.OutputSchema, err = compileOptionalSchema(name+"::output", raw.OutputSchema); err != nil {
		return nil, err
	}

	return fn, nil
}

func compileOptionalSchema(name string, doc map[string]any) (*schema.CompiledSchema, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %q: %w", name, err)
	}
	return schema.Compile(name, raw)
}

func buildVariant(name string, raw RawVariant) (*variant.Config, error) {
	cfg := &variant.Config{
		Name:   name,
		Weight: raw.Weight,
		Kind:   variant.Kind(raw.Kind),
		Timeouts: variant.Timeouts{
			NonStreamingTotalMs: raw.NonStreamingTotalTimeout,
			StreamingTTFTMs:     raw.StreamingTTFTTimeout,
		},
	}

	switch cfg.Kind {
	case variant.KindChatCompletion:
		cfg.ChatCompletion = chatCompletionConfigFrom(raw)
	case variant.KindChainOfThought:
		cfg.ChainOfThought = &variant.ChainOfThoughtConfig{Inner: chatCompletionConfigFrom(raw)}
	case variant.KindBestOfN:
		if raw.Evaluator == nil {
			return nil, &ConfigError{Message: fmt.Sprintf("variant %q: best_of_n_sampling requires an evaluator", name)}
		}
		cfg.BestOfN = &variant.BestOfNConfig{
			Candidates: raw.Candidates,
			Evaluator:  chatCompletionConfigFrom(*raw.Evaluator),
			TimeoutS:   raw.TimeoutS,
		}
	case variant.KindMixtureOfN:
		if raw.Fuser == nil {
			return nil, &ConfigError{Message: fmt.Sprintf("variant %q: mixture_of_n requires a fuser", name)}
		}
		cfg.MixtureOfN = &variant.MixtureOfNConfig{
			Candidates: raw.Candidates,
			Fuser:      chatCompletionConfigFrom(*raw.Fuser),
			TimeoutS:   raw.TimeoutS,
		}
	case variant.KindDICL:
		var jsonMode *providers.JSONMode
		if raw.JSONMode != "" {
			m := providers.JSONMode(raw.JSONMode)
			jsonMode = &m
		}
		cfg.DICL = &variant.DICLConfig{
			EmbeddingModel:     raw.EmbeddingModel,
			K:                  raw.K,
			Model:              raw.Model,
			SystemInstructions: raw.SystemInstructions,
			JSONMode:           jsonMode,
			Temperature:        raw.Temperature,
			TopP:               raw.TopP,
			PresencePenalty:    raw.PresencePenalty,
			FrequencyPenalty:   raw.FrequencyPenalty,
			MaxTokens:          raw.MaxTokens,
			Seed:               raw.Seed,
			StopSequences:      raw.StopSequences,
			Retries:            variant.RetryConfig{NumRetries: raw.NumRetries, MaxDelayS: raw.MaxDelayS},
		}
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("variant %q: unknown kind %q", name, raw.Kind)}
	}

	return cfg, nil
}
