package variant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lattice-ai/inference-gateway/providers"
)

// candidateOutcome is one candidate variant's fan-out result, keyed to its
// declaration order so the final ModelInferenceResults list can be ordered
// by declaration rather than completion (spec §4.3 "Ordering guarantees").
type candidateOutcome struct {
	name   string
	result *Result
	err    error
}

// runCandidates resolves each name against req.Siblings and runs it through
// Infer concurrently, bounded by timeoutS (no bound when timeoutS <= 0).
func runCandidates(ctx context.Context, deps *Deps, req Request, names []string, timeoutS float64) []candidateOutcome {
	if timeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutS*float64(time.Second)))
		defer cancel()
	}

	outcomes := make([]candidateOutcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			cfg, ok := req.Siblings[name]
			if !ok {
				outcomes[i] = candidateOutcome{name: name, err: fmt.Errorf("candidate variant %q not declared on function %q", name, req.FunctionName)}
				return
			}
			res, err := Infer(ctx, cfg, deps, req)
			outcomes[i] = candidateOutcome{name: name, result: res, err: err}
		}(i, name)
	}
	wg.Wait()
	return outcomes
}

// renderCandidates builds the evaluator/fuser-facing text describing every
// successful candidate's output, in declaration order.
func renderCandidates(successes []candidateOutcome) string {
	var b strings.Builder
	for i, c := range successes {
		b.WriteString(fmt.Sprintf("Candidate %d (%s):\n%s\n\n", i, c.name, flattenText(c.result.Output)))
	}
	return b.String()
}

// flattenText concatenates every plain-string Text block in blocks; other
// block kinds are ignored for the purposes of presenting a candidate to an
// evaluator or fuser.
func flattenText(blocks []providers.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if t, ok := block.(providers.Text); ok && t.Kind == providers.TextKindString {
			b.WriteString(t.String)
		}
	}
	return b.String()
}

func inferBestOfN(ctx context.Context, variantName string, cfg *BestOfNConfig, deps *Deps, req Request) (*Result, error) {
	outcomes := runCandidates(ctx, deps, req, cfg.Candidates, cfg.TimeoutS)

	var successes []candidateOutcome
	for _, o := range outcomes {
		if o.err == nil {
			successes = append(successes, o)
		}
	}
	if len(successes) == 0 {
		return nil, fmt.Errorf("best_of_n_sampling %q: all %d candidates failed", variantName, len(outcomes))
	}

	evalReq := req
	evalReq.Messages = append(append([]providers.Message{}, req.Messages...), providers.Message{
		Role: providers.RoleUser,
		Content: []providers.ContentBlock{providers.Text{
			Kind:   providers.TextKindString,
			String: "Select the best candidate response by index (0-based).\n\n" + renderCandidates(successes),
		}},
	})

	evalResult, err := inferChatCompletion(ctx, variantName+"::evaluator", cfg.Evaluator, deps, evalReq)
	if err != nil {
		return nil, fmt.Errorf("best_of_n_sampling %q: evaluator call failed: %w", variantName, err)
	}

	chosen := parseCandidateIndex(flattenText(evalResult.Output), len(successes))

	modelResults := make([]providers.ModelInferenceResult, 0, len(successes)+1)
	for _, o := range successes {
		modelResults = append(modelResults, o.result.ModelInferenceResults...)
	}
	modelResults = append(modelResults, evalResult.ModelInferenceResults...)

	winner := successes[chosen].result
	return &Result{
		Output:                winner.Output,
		FinishReason:          winner.FinishReason,
		Usage:                 winner.Usage,
		ModelInferenceResults: modelResults,
	}, nil
}

// parseCandidateIndex extracts the first integer appearing in text and
// clamps it into [0, n). A response the evaluator failed to produce a
// parseable index for falls back to candidate 0, matching the spec's
// preference for availability over a hard failure on a judge formatting
// slip.
func parseCandidateIndex(text string, n int) int {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		if digits.Len() > 0 {
			break
		}
	}
	idx, err := strconv.Atoi(digits.String())
	if err != nil || idx < 0 || idx >= n {
		return 0
	}
	return idx
}
