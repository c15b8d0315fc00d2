// Package cachegate computes cache fingerprints for outgoing model requests
// and wraps a miss-path call with a cache lookup/write, including a
// non-back-pressuring tee for the streaming path: the caller's stream is
// forwarded chunk-by-chunk without ever blocking on the cache write.
package cachegate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/lattice-ai/inference-gateway/internal/cachestore"
	"github.com/lattice-ai/inference-gateway/providers"
)

// fingerprintInput is the subset of a ModelRequest (plus routing context)
// that two requests must agree on to be considered a cache hit. Provider
// identity is deliberately excluded: a cache hit for model "gpt4" should
// still land regardless of which provider in its routing list served it.
type fingerprintInput struct {
	ModelName     string                `json:"model_name"`
	VariantName   string                `json:"variant_name"`
	Messages      []providers.Message   `json:"messages"`
	System        *string               `json:"system,omitempty"`
	Tools         []providers.Tool      `json:"tools,omitempty"`
	ToolChoice    *providers.ToolChoice `json:"tool_choice,omitempty"`
	JSONMode      providers.JSONMode    `json:"json_mode"`
	OutputSchema  json.RawMessage       `json:"output_schema,omitempty"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	Temperature   *float64              `json:"temperature,omitempty"`
	TopP          *float64              `json:"top_p,omitempty"`
	MaxTokens     *int                  `json:"max_tokens,omitempty"`
	Seed          *int64                `json:"seed,omitempty"`
	ExtraCacheKey string                `json:"extra_cache_key,omitempty"`
}

// Fingerprint derives the cache key for req against modelName/variantName.
// Two logically identical requests always hash to the same fingerprint
// regardless of Go map iteration order, since every slice in
// fingerprintInput preserves caller-supplied order and json.Marshal on
// struct fields is itself deterministic.
func Fingerprint(req *providers.ModelRequest, modelName, variantName string) string {
	in := fingerprintInput{
		ModelName:     modelName,
		VariantName:   variantName,
		Messages:      req.Messages,
		System:        req.System,
		Tools:         req.Tools,
		ToolChoice:    req.ToolChoice,
		JSONMode:      req.JSONMode,
		OutputSchema:  req.OutputSchema,
		StopSequences: req.StopSequences,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		MaxTokens:     req.MaxTokens,
		Seed:          req.Seed,
		ExtraCacheKey: req.ExtraCacheKey,
	}
	// Marshal errors can't happen: every field is built from already-valid
	// in-memory values with no cycles.
	raw, _ := json.Marshal(in)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Gate mediates cache reads/writes around a model call. It holds no
// knowledge of how to perform the call itself.
type Gate struct {
	store   cachestore.Store
	ttl     time.Duration
	enabled bool
}

// New builds a Gate. When enabled is false, every lookup misses and every
// write is a no-op, so callers can leave caching wired but switched off.
func New(store cachestore.Store, ttl time.Duration, enabled bool) *Gate {
	return &Gate{store: store, ttl: ttl, enabled: enabled}
}

// Lookup returns the cached Data for key, if present.
func (g *Gate) Lookup(key string) (*cachestore.Data, bool) {
	if !g.enabled || g.store == nil {
		return nil, false
	}
	return g.store.Get(key)
}

// Store writes data under key, honoring the Gate's configured TTL.
func (g *Gate) Store(key string, data *cachestore.Data) {
	if !g.enabled || g.store == nil {
		return
	}
	g.store.Set(key, data, g.ttl)
}

// TeeStream forwards every chunk from src to the returned channel
// immediately, and only once the source channel closes does it assemble and
// cache the accumulated Data — so a slow or unbuffered cache write can never
// add latency to the forwarded stream.
func (g *Gate) TeeStream(ctx context.Context, key, modelName, providerName string, src <-chan providers.StreamChunk) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		var blocks []providers.ContentBlock
		var finishReason *string
		var usage providers.Usage
		failed := false

		for chunk := range src {
			select {
			case out <- chunk:
			case <-ctx.Done():
				failed = true
			}
			if chunk.Error != nil {
				failed = true
				continue
			}
			blocks = append(blocks, chunk.Output...)
			if chunk.FinishReason != nil {
				finishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		}

		if failed || !g.enabled {
			return
		}
		g.Store(key, &cachestore.Data{
			Output:       blocks,
			Usage:        usage,
			FinishReason: finishReason,
			ModelName:    modelName,
			ProviderName: providerName,
		})
	}()
	return out
}
