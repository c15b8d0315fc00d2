package variant

import (
	"context"
	"strings"

	"github.com/lattice-ai/inference-gateway/providers"
)

// finalAnswerMarker splits a chain-of-thought completion into its reasoning
// and its final answer. No teacher or example repo implements literal
// chain-of-thought parsing; this marker convention is the simplest rule that
// lets a SystemTemplate ask a model to reason before answering while still
// giving callers a clean final Text block.
const finalAnswerMarker = "Final Answer:"

func inferChainOfThought(ctx context.Context, variantName string, cfg *ChainOfThoughtConfig, deps *Deps, req Request) (*Result, error) {
	result, err := inferChatCompletion(ctx, variantName, cfg.Inner, deps, req)
	if err != nil {
		return nil, err
	}
	result.Output = splitChainOfThought(result.Output)
	return result, nil
}

// splitChainOfThought rewrites a single plain-string Text block containing
// finalAnswerMarker into a Thought block (everything before the marker)
// followed by the final Text block (everything after it). Blocks that are
// not a plain string Text, or that don't contain the marker, pass through
// unchanged.
func splitChainOfThought(blocks []providers.ContentBlock) []providers.ContentBlock {
	out := make([]providers.ContentBlock, 0, len(blocks)+1)
	for _, b := range blocks {
		text, ok := b.(providers.Text)
		if !ok || text.Kind != providers.TextKindString {
			out = append(out, b)
			continue
		}
		idx := strings.Index(text.String, finalAnswerMarker)
		if idx < 0 {
			out = append(out, b)
			continue
		}
		reasoning := strings.TrimSpace(text.String[:idx])
		answer := strings.TrimSpace(text.String[idx+len(finalAnswerMarker):])
		if reasoning != "" {
			out = append(out, providers.Thought{Text: reasoning})
		}
		out = append(out, providers.Text{Kind: providers.TextKindString, String: answer})
	}
	return out
}
