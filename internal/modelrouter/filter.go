package modelrouter

import "github.com/lattice-ai/inference-gateway/providers"

// filterForProvider drops content blocks scoped away from this specific
// provider attempt before it leaves the gateway:
//
//   - a Thought block whose ProviderType is set is dropped unless it
//     matches providerType (e.g. a reasoning trace captured from one
//     provider should not be replayed to a different one as a prompt).
//   - an Unknown block whose ModelProviderName is set is dropped unless it
//     matches "<model>::<provider>" exactly (it is an opaque passthrough
//     meant for one specific model+provider pair).
//
// All other blocks pass through unchanged. The returned ModelRequest is a
// shallow copy; req itself is never mutated.
func filterForProvider(req *providers.ModelRequest, providerType, modelProviderName string) *providers.ModelRequest {
	out := *req
	out.Messages = make([]providers.Message, len(req.Messages))
	for i, msg := range req.Messages {
		out.Messages[i] = providers.Message{
			Role:    msg.Role,
			Content: filterBlocks(msg.Content, providerType, modelProviderName),
		}
	}
	return &out
}

func filterBlocks(blocks []providers.ContentBlock, providerType, modelProviderName string) []providers.ContentBlock {
	kept := make([]providers.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case providers.Thought:
			if v.ProviderType != nil && *v.ProviderType != providerType {
				continue
			}
		case providers.Unknown:
			if v.ModelProviderName != nil && *v.ModelProviderName != modelProviderName {
				continue
			}
		}
		kept = append(kept, b)
	}
	return kept
}
