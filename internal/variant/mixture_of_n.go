package variant

import (
	"context"
	"fmt"

	"github.com/lattice-ai/inference-gateway/providers"
)

func inferMixtureOfN(ctx context.Context, variantName string, cfg *MixtureOfNConfig, deps *Deps, req Request) (*Result, error) {
	outcomes := runCandidates(ctx, deps, req, cfg.Candidates, cfg.TimeoutS)

	var successes []candidateOutcome
	for _, o := range outcomes {
		if o.err == nil {
			successes = append(successes, o)
		}
	}
	if len(successes) == 0 {
		return nil, fmt.Errorf("mixture_of_n %q: all %d candidates failed", variantName, len(outcomes))
	}

	fuseReq := req
	fuseReq.Messages = append(append([]providers.Message{}, req.Messages...), providers.Message{
		Role: providers.RoleUser,
		Content: []providers.ContentBlock{providers.Text{
			Kind:   providers.TextKindString,
			String: "Synthesize a single best response from the following candidates.\n\n" + renderCandidates(successes),
		}},
	})

	fuseResult, err := inferChatCompletion(ctx, variantName+"::fuser", cfg.Fuser, deps, fuseReq)
	if err != nil {
		return nil, fmt.Errorf("mixture_of_n %q: fuser call failed: %w", variantName, err)
	}

	modelResults := make([]providers.ModelInferenceResult, 0, len(successes)+1)
	for _, o := range successes {
		modelResults = append(modelResults, o.result.ModelInferenceResults...)
	}
	modelResults = append(modelResults, fuseResult.ModelInferenceResults...)

	return &Result{
		Output:                fuseResult.Output,
		FinishReason:          fuseResult.FinishReason,
		Usage:                 fuseResult.Usage,
		ModelInferenceResults: modelResults,
	}, nil
}
