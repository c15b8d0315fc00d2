package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-ai/inference-gateway/internal/evaluation"
	"github.com/lattice-ai/inference-gateway/internal/metrics"
	"github.com/lattice-ai/inference-gateway/providers"
)

// EvaluationResult is the outcome of running one evaluator against a
// candidate output.
type EvaluationResult struct {
	EvaluatorName string
	MetricName    string
	Value         float64 // 1/0 for boolean-typed metrics
	Passed        bool
}

// RunEvaluation scores candidateOutput (and, when supplied, referenceOutput)
// against every evaluator declared under evaluationName. This is
// observability only (spec §4.4): its result never feeds back into Infer,
// sample_variant, or any other decision path, and a failed evaluator run
// here has no bearing on the inference it is grading.
func (d *Dispatcher) RunEvaluation(ctx context.Context, evaluationName, episodeID string, original providers.Input, candidateOutput string, referenceOutput *string) ([]EvaluationResult, error) {
	evaluators, ok := d.build.Evaluations[evaluationName]
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown evaluation %q", evaluationName)}
	}

	results := make([]EvaluationResult, 0, len(evaluators))
	for evaluatorName, synth := range evaluators {
		res, err := d.runOneEvaluator(ctx, evaluatorName, episodeID, synth, original, candidateOutput, referenceOutput)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.EvaluationRunsTotal.WithLabelValues(evaluationName, evaluatorName, status).Inc()
		if err != nil {
			return nil, fmt.Errorf("evaluator %q: %w", evaluatorName, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) runOneEvaluator(ctx context.Context, evaluatorName, episodeID string, synth evaluation.Synthesized, original providers.Input, candidateOutput string, referenceOutput *string) (EvaluationResult, error) {
	if synth.Kind == evaluation.KindExactMatch {
		match := referenceOutput != nil && strings.TrimSpace(candidateOutput) == strings.TrimSpace(*referenceOutput)
		value := 0.0
		if match {
			value = 1.0
		}
		return EvaluationResult{EvaluatorName: evaluatorName, MetricName: synth.MetricName, Value: value, Passed: match}, nil
	}

	judgeInput, err := buildJudgeInput(synth, original, candidateOutput, referenceOutput)
	if err != nil {
		return EvaluationResult{}, err
	}

	result, err := d.Infer(ctx, synth.FunctionName, episodeID+"::"+evaluatorName, judgeInput, nil, nil)
	if err != nil {
		return EvaluationResult{}, err
	}
	if result.Type != InferenceResultJSON || result.JSON.Parsed == nil {
		return EvaluationResult{}, fmt.Errorf("judge %q produced no parsed verdict", synth.FunctionName)
	}

	verdict, ok := result.JSON.Parsed.(map[string]any)
	if !ok {
		return EvaluationResult{}, fmt.Errorf("judge %q verdict is not an object", synth.FunctionName)
	}
	score, err := scoreOf(verdict["score"])
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("judge %q: %w", synth.FunctionName, err)
	}

	passed := score != 0
	if synth.Cutoff != nil {
		if synth.Metric.Optimize == evaluation.OptimizeMin {
			passed = score <= *synth.Cutoff
		} else {
			passed = score >= *synth.Cutoff
		}
	}
	return EvaluationResult{EvaluatorName: evaluatorName, MetricName: synth.MetricName, Value: score, Passed: passed}, nil
}

func scoreOf(v any) (float64, error) {
	switch s := v.(type) {
	case float64:
		return s, nil
	case bool:
		if s {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not numeric", s)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported score type %T", v)
	}
}

// buildJudgeInput projects the original conversation plus the candidate
// (and, when configured, reference) output into the Input a judge function
// validates against its UserSchema. Serialized judges get a single user
// message whose arguments satisfy judgeUserSchema's {input, output,
// reference_output} shape; message-format judges get the original
// conversation with the candidate appended as a trailing assistant turn.
func buildJudgeInput(synth evaluation.Synthesized, original providers.Input, candidateOutput string, referenceOutput *string) (providers.Input, error) {
	if synth.UserSchema == nil {
		messages := append([]providers.Message{}, original.Messages...)
		messages = append(messages, providers.Message{
			Role:    providers.RoleAssistant,
			Content: []providers.ContentBlock{providers.RawText{Text: candidateOutput}},
		})
		return providers.Input{System: original.System, Messages: messages}, nil
	}

	inputText, err := serializeConversation(original)
	if err != nil {
		return providers.Input{}, err
	}

	args := map[string]any{"input": inputText, "output": candidateOutput}
	if referenceOutput != nil {
		var doc struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if json.Unmarshal(synth.UserSchema, &doc) == nil && doc.Properties["reference_output"] != nil {
			args["reference_output"] = *referenceOutput
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return providers.Input{}, err
	}

	return providers.Input{
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindArguments, Arguments: raw}},
		}},
	}, nil
}

// serializeConversation flattens the plain-string/arguments text of every
// message into the single "input" string a serialized-format judge sees.
func serializeConversation(input providers.Input) (string, error) {
	var b strings.Builder
	for i, msg := range input.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		for _, block := range msg.Content {
			text, ok := block.(providers.Text)
			if !ok {
				continue
			}
			v, err := text.JSONValue()
			if err != nil {
				return "", err
			}
			if s, ok := v.(string); ok {
				b.WriteString(s)
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			b.Write(raw)
		}
	}
	return b.String(), nil
}
