package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lattice-ai/inference-gateway/internal/credentials"
	"github.com/lattice-ai/inference-gateway/providers"
	_ "github.com/lattice-ai/inference-gateway/providers/dummy"
)

func rawDummyModel() RawModel {
	return RawModel{
		Routing: []string{"p0"},
		Providers: map[string]RawProvider{
			"p0": {Type: "dummy", CredentialLocation: "none"},
		},
	}
}

func TestValidateConfigRejectsReservedPrefix(t *testing.T) {
	cfg := &RawConfig{
		Functions: map[string]RawFunction{
			ReservedPrefix + "foo": {Type: "chat"},
		},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for a function named with the reserved prefix")
	}
}

func TestValidateConfigRejectsBadModelRouting(t *testing.T) {
	cfg := &RawConfig{
		Models: map[string]RawModel{
			"m": {Routing: []string{"missing"}, Providers: map[string]RawProvider{}},
		},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for a routing entry with no provider")
	}
}

func TestValidateConfigRejectsJSONFunctionWithoutOutputSchema(t *testing.T) {
	cfg := &RawConfig{
		Functions: map[string]RawFunction{
			"f": {Type: "json"},
		},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for a json function missing output_schema")
	}
}

func TestBuildWiresModelsAndFunctions(t *testing.T) {
	weight := 1.0
	cfg := &RawConfig{
		Models: map[string]RawModel{"good": rawDummyModel()},
		Functions: map[string]RawFunction{
			"greet": {
				Type: "chat",
				Variants: map[string]RawVariant{
					"v1": {Kind: "chat_completion", Model: "good", Weight: &weight},
				},
			},
		},
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}

	built, err := Build(cfg, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := built.Models["good"]; !ok {
		t.Fatalf("expected model %q to be built", "good")
	}
	fn, ok := built.Functions["greet"]
	if !ok {
		t.Fatalf("expected function %q to be built", "greet")
	}
	if _, ok := fn.Variants["v1"]; !ok {
		t.Fatalf("expected variant %q to be built", "v1")
	}
}

func TestBuildSynthesizesLLMJudgeFunction(t *testing.T) {
	weight := 1.0
	cfg := &RawConfig{
		Models: map[string]RawModel{"judge-model": rawDummyModel()},
		Functions: map[string]RawFunction{
			"greet": {
				Type:         "json",
				OutputSchema: map[string]any{"type": "object"},
				Variants: map[string]RawVariant{
					"v1": {Kind: "chat_completion", Model: "judge-model", Weight: &weight},
				},
			},
		},
		Evaluations: map[string]RawEvaluation{
			"accuracy": {
				FunctionName: "greet",
				Evaluators: map[string]RawEvaluatorEntry{
					"grader": {
						Type:        "llm_judge",
						InputFormat: "serialized",
						OutputType:  "boolean",
						Optimize:    "max",
						Variants: map[string]RawVariant{
							"only": {Kind: "chat_completion", Model: "judge-model"},
						},
					},
				},
			},
		},
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}

	built, err := Build(cfg, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	judgeFnName := ReservedPrefix + "llm_judge::accuracy::grader"
	judgeFn, ok := built.Functions[judgeFnName]
	if !ok {
		t.Fatalf("expected synthesized judge function %q", judgeFnName)
	}
	if judgeFn.Type != FunctionTypeJSON {
		t.Fatalf("expected synthesized judge function to be json, got %v", judgeFn.Type)
	}
	if judgeFn.UserSchema == nil {
		t.Fatalf("expected a user schema for a serialized-input judge")
	}

	metricName := ReservedPrefix + "evaluation_name::accuracy::evaluator_name::grader"
	metric, ok := built.Metrics[metricName]
	if !ok {
		t.Fatalf("expected metric %q", metricName)
	}
	if metric.Optimize != "max" {
		t.Fatalf("unexpected metric optimize: %v", metric.Optimize)
	}
}

func TestDispatcherInferRunsChatFunction(t *testing.T) {
	weight := 1.0
	cfg := &RawConfig{
		Models: map[string]RawModel{"good": rawDummyModel()},
		Functions: map[string]RawFunction{
			"greet": {
				Type: "chat",
				Variants: map[string]RawVariant{
					"v1": {Kind: "chat_completion", Model: "good", Weight: &weight},
				},
			},
		},
	}
	built, err := Build(cfg, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(built)
	input := providers.Input{Messages: []providers.Message{
		{Role: providers.RoleUser, Content: []providers.ContentBlock{
			providers.Text{Kind: providers.TextKindString, String: "hi"},
		}},
	}}
	result, err := d.Infer(context.Background(), "greet", "episode-1", input, nil, nil)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if result.Type != InferenceResultChat {
		t.Fatalf("expected a chat result, got %v", result.Type)
	}
	if len(result.Chat.Content) == 0 {
		t.Fatalf("expected non-empty content")
	}
}

func TestDispatcherInferUnknownFunction(t *testing.T) {
	built, err := Build(&RawConfig{}, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := New(built)
	if _, err := d.Infer(context.Background(), "missing", "ep", providers.Input{}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown function")
	}
}

func TestSampleVariantIsDeterministic(t *testing.T) {
	weight := 1.0
	candidates := map[string]*VariantConfig{
		"a": {Name: "a", Weight: &weight},
		"b": {Name: "b", Weight: &weight},
	}
	_, n1 := sampleVariant(candidates, "fn", "same-episode")
	_, n2 := sampleVariant(candidates, "fn", "same-episode")
	if n1 != n2 {
		t.Fatalf("expected sample_variant to be deterministic for the same inputs, got %q then %q", n1, n2)
	}
}

func TestSampleVariantDistributionRoughlyMatchesWeights(t *testing.T) {
	wa, wb := 1.0, 3.0
	candidates := map[string]*VariantConfig{
		"a": {Name: "a", Weight: &wa},
		"b": {Name: "b", Weight: &wb},
	}
	counts := map[string]int{}
	const trials = 2000
	for i := 0; i < trials; i++ {
		episodeID := "episode-" + string(rune('A'+(i%26))) + string(rune('0'+(i/26%10)))
		_, name := sampleVariant(candidates, "fn", episodeID)
		counts[name]++
	}
	// b is weighted 3x a; allow generous slack since episode IDs above are
	// not independently uniform draws, only a determinism smoke check.
	if counts["b"] <= counts["a"] {
		t.Fatalf("expected variant %q (weight 3) to be drawn more than %q (weight 1), got %+v", "b", "a", counts)
	}
}

func TestValidateInputRejectsMissingSystemWhenSchemaDeclared(t *testing.T) {
	schemaDoc := map[string]any{"type": "object", "properties": map[string]any{"topic": map[string]any{"type": "string"}}, "required": []string{"topic"}}
	cfg := &RawConfig{
		Functions: map[string]RawFunction{
			"f": {Type: "chat", SystemSchema: schemaDoc},
		},
	}
	built, err := Build(cfg, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fn := built.Functions["f"]
	err = validateInput(fn, providers.Input{Messages: []providers.Message{}})
	if err == nil {
		t.Fatalf("expected error when system_schema is declared but input.system is absent")
	}
	if _, ok := err.(*InvalidMessageError); !ok {
		t.Fatalf("expected *InvalidMessageError, got %T", err)
	}
}

func TestValidateInputAcceptsMatchingSystemSchema(t *testing.T) {
	schemaDoc := map[string]any{"type": "object", "properties": map[string]any{"topic": map[string]any{"type": "string"}}, "required": []string{"topic"}}
	cfg := &RawConfig{
		Functions: map[string]RawFunction{
			"f": {Type: "chat", SystemSchema: schemaDoc},
		},
	}
	built, err := Build(cfg, credentials.NewResolver())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fn := built.Functions["f"]
	sys, _ := json.Marshal(map[string]any{"topic": "go"})
	err = validateInput(fn, providers.Input{System: sys})
	if err != nil {
		t.Fatalf("expected matching system input to validate, got %v", err)
	}
}
