// Package evaluation synthesizes the judge functions that back evaluators
// (spec §4.4 "EvaluatorSynthesizer"). An evaluator scores one inference
// against a reference output, either exactly (exact_match) or by asking a
// model to grade it (llm_judge). llm_judge evaluators are themselves
// ordinary Json functions under the hood; Load builds the FunctionConfig
// material for one without importing the root package, since the root
// package is what calls Load to assemble it.
package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lattice-ai/inference-gateway/internal/variant"
)

// Kind distinguishes the two evaluator strategies.
type Kind string

const (
	KindExactMatch Kind = "exact_match"
	KindLLMJudge   Kind = "llm_judge"
)

// InputFormat controls how the inference under evaluation is presented to
// the judge: as a single serialized JSON blob, or as the original messages.
type InputFormat string

const (
	InputFormatSerialized InputFormat = "serialized"
	InputFormatMessages   InputFormat = "messages"
)

// OutputType is the shape of score an llm_judge evaluator produces.
type OutputType string

const (
	OutputTypeFloat   OutputType = "float"
	OutputTypeBoolean OutputType = "boolean"
)

// Optimize says whether a higher or lower metric value is better.
type Optimize string

const (
	OptimizeMin Optimize = "min"
	OptimizeMax Optimize = "max"
)

// MetricLevel says whether a metric is recorded once per inference or
// rolled up once per episode.
type MetricLevel string

const (
	MetricLevelInference MetricLevel = "inference"
	MetricLevelEpisode   MetricLevel = "episode"
)

// MetricConfig describes the metric an evaluator feeds.
type MetricConfig struct {
	Type     OutputType
	Optimize Optimize
	Level    MetricLevel
}

// RawEvaluator is the on-disk shape of one evaluator entry.
type RawEvaluator struct {
	Kind Kind

	// Applied to llm_judge scores; exact_match ignores it.
	Cutoff *float64

	// llm_judge.
	InputFormat            InputFormat
	Variants               map[string]*variant.Config
	OutputType             OutputType
	Optimize               Optimize
	IncludeReferenceOutput bool
}

// Synthesized is everything Load derives from one RawEvaluator: enough for
// the caller to build a FunctionConfig and register a MetricConfig without
// evaluation needing to know that type itself.
type Synthesized struct {
	Kind Kind
	Cutoff *float64

	// Populated for llm_judge only. FunctionName is empty for exact_match,
	// since no function is synthesized.
	FunctionName string
	Variants     map[string]*variant.Config
	UserSchema   json.RawMessage // nil unless InputFormat == serialized
	OutputSchema json.RawMessage

	MetricName string
	Metric     MetricConfig
}

// judgeUserSchema is the fixed schema a serialized-input llm_judge function
// validates its user message against: the original input, the candidate
// output being graded, and (when configured) a reference output to compare
// it to.
func judgeUserSchema(includeReferenceOutput bool) json.RawMessage {
	properties := map[string]any{
		"input":  map[string]any{"type": "string"},
		"output": map[string]any{"type": "string"},
	}
	required := []string{"input", "output"}
	if includeReferenceOutput {
		properties["reference_output"] = map[string]any{"type": "string"}
		required = append(required, "reference_output")
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// judgeOutputSchema is the fixed schema a judge's verdict must satisfy,
// selected by OutputType.
func judgeOutputSchema(outputType OutputType) json.RawMessage {
	var scoreType string
	switch outputType {
	case OutputTypeBoolean:
		scoreType = "boolean"
	default:
		scoreType = "number"
	}
	doc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{"type": scoreType},
		},
		"required":             []string{"score"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// Load synthesizes every evaluator declared for evaluationName.
// reservedPrefix is the caller's reserved namespace (e.g. "gateway::"), used to name
// the judge function and its metric so they can never collide with a
// caller-declared function.
func Load(evaluationName string, evaluators map[string]RawEvaluator, reservedPrefix string) (map[string]Synthesized, error) {
	if strings.Contains(evaluationName, "::") {
		return nil, fmt.Errorf("evaluation name %q must not contain \"::\"", evaluationName)
	}

	out := make(map[string]Synthesized, len(evaluators))
	for name, raw := range evaluators {
		if strings.Contains(name, "::") {
			return nil, fmt.Errorf("evaluator name %q must not contain \"::\"", name)
		}
		synth, err := loadOne(evaluationName, name, raw, reservedPrefix)
		if err != nil {
			return nil, fmt.Errorf("evaluator %q: %w", name, err)
		}
		out[name] = synth
	}
	return out, nil
}

func loadOne(evaluationName, evaluatorName string, raw RawEvaluator, reservedPrefix string) (Synthesized, error) {
	metricName := reservedPrefix + "evaluation_name::" + evaluationName + "::evaluator_name::" + evaluatorName

	if raw.Kind == KindExactMatch {
		return Synthesized{
			Kind:       KindExactMatch,
			Cutoff:     raw.Cutoff,
			MetricName: metricName,
			Metric:     MetricConfig{Type: OutputTypeBoolean, Optimize: OptimizeMax, Level: MetricLevelInference},
		}, nil
	}

	if raw.Kind != KindLLMJudge {
		return Synthesized{}, fmt.Errorf("unknown evaluator kind %q", raw.Kind)
	}

	variants, err := activateSingleVariant(evaluationName, evaluatorName, raw.Variants)
	if err != nil {
		return Synthesized{}, err
	}

	var userSchema json.RawMessage
	if raw.InputFormat != InputFormatMessages {
		userSchema = judgeUserSchema(raw.IncludeReferenceOutput)
	}

	functionName := reservedPrefix + "llm_judge::" + evaluationName + "::" + evaluatorName

	return Synthesized{
		Kind:         KindLLMJudge,
		Cutoff:       raw.Cutoff,
		FunctionName: functionName,
		Variants:     variants,
		UserSchema:   userSchema,
		OutputSchema: judgeOutputSchema(raw.OutputType),
		MetricName:   metricName,
		Metric:       MetricConfig{Type: raw.OutputType, Optimize: raw.Optimize, Level: MetricLevelInference},
	}, nil
}

// activateSingleVariant enforces "exactly one of the configured variants
// active" (spec §4.4 "Name constraints"): with more than one variant
// declared, exactly one may carry a positive weight; with exactly one
// variant declared, its weight is forced to 1.0 unless it was explicitly
// set to 0 (a lone inactive variant is rejected outright). evaluationName
// and evaluatorName identify the evaluator being loaded so the rejection
// names both.
func activateSingleVariant(evaluationName, evaluatorName string, variants map[string]*variant.Config) (map[string]*variant.Config, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants configured")
	}

	if len(variants) == 1 {
		for _, v := range variants {
			if v.Weight != nil && *v.Weight == 0 {
				return nil, fmt.Errorf("evaluation %q evaluator %q: the single configured variant must not be explicitly inactive", evaluationName, evaluatorName)
			}
			one := 1.0
			v.Weight = &one
		}
		return variants, nil
	}

	active := 0
	for _, v := range variants {
		if v.EffectiveWeight() > 0 {
			active++
		}
	}
	if active != 1 {
		return nil, fmt.Errorf("exactly one variant must be active, found %d", active)
	}
	return variants, nil
}
