// Package variant implements the five variant strategies a function can
// route an inference through: chat_completion, best_of_n_sampling,
// mixture_of_n, dicl, and chain_of_thought. Each strategy resolves a
// provider-neutral Input into one or more ModelRouter calls and produces a
// single Result — the set of model calls it made plus their combined
// output.
package variant

import (
	"time"

	"github.com/lattice-ai/inference-gateway/providers"
)

// Kind enumerates the five closed variant strategies. The set is closed
// deliberately: sampling, weighting, and the error taxonomy all assume an
// exhaustive match over these five.
type Kind string

const (
	KindChatCompletion Kind = "chat_completion"
	KindBestOfN        Kind = "best_of_n_sampling"
	KindMixtureOfN     Kind = "mixture_of_n"
	KindDICL           Kind = "dicl"
	KindChainOfThought Kind = "chain_of_thought"
)

// Timeouts holds a variant's configured time budgets (spec §3 "Variant").
// No call path applies them: a variant call is bounded only by model- and
// provider-level timeouts and by best_of_n/mixture_of_n TimeoutS.
type Timeouts struct {
	NonStreamingTotalMs *int64
	StreamingTTFTMs     *int64
}

func (t Timeouts) NonStreamingTotal() (time.Duration, bool) {
	if t.NonStreamingTotalMs == nil {
		return 0, false
	}
	return time.Duration(*t.NonStreamingTotalMs) * time.Millisecond, true
}

func (t Timeouts) StreamingTTFT() (time.Duration, bool) {
	if t.StreamingTTFTMs == nil {
		return 0, false
	}
	return time.Duration(*t.StreamingTTFTMs) * time.Millisecond, true
}

// RetryConfig applies backoff to a variant's own model call(s); orthogonal
// to the ModelRouter's provider fallback.
type RetryConfig struct {
	NumRetries int
	MaxDelayS  float64
}

// ChatCompletionConfig is the configuration shared by chat_completion and
// chain_of_thought variants (the latter wraps one of these unchanged).
type ChatCompletionConfig struct {
	Model             string
	SystemTemplate    string
	UserTemplate      string
	AssistantTemplate string
	JSONMode          *providers.JSONMode
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	Seed              *int64
	StopSequences     []string
	Retries           RetryConfig
}

// BestOfNConfig fans out Candidates in parallel, then asks Evaluator to
// select one (spec §4.3 "best_of_n_sampling").
type BestOfNConfig struct {
	Candidates []string
	Evaluator  *ChatCompletionConfig
	TimeoutS   float64
}

// MixtureOfNConfig fans out Candidates in parallel, then asks Fuser to
// synthesize a new output from them (spec §4.3 "mixture_of_n").
type MixtureOfNConfig struct {
	Candidates []string
	Fuser      *ChatCompletionConfig
	TimeoutS   float64
}

// DICLConfig implements dynamic in-context learning (spec §4.3 "dicl").
type DICLConfig struct {
	EmbeddingModel     string
	K                  int
	Model              string
	SystemInstructions string
	JSONMode           *providers.JSONMode
	Temperature        *float64
	TopP               *float64
	MaxTokens          *int
	PresencePenalty    *float64
	FrequencyPenalty   *float64
	Seed               *int64
	StopSequences      []string
	Retries            RetryConfig
}

// ChainOfThoughtConfig wraps a ChatCompletionConfig unchanged; it exists so
// operators can opt into reasoning-specific prompt templates without
// duplicating parameters (spec §4.3).
type ChainOfThoughtConfig struct {
	Inner *ChatCompletionConfig
}

// Config is a named strategy attached to a function (spec §3 "Variant").
// Exactly one of the Kind-matching fields is populated.
type Config struct {
	Name     string
	Weight   *float64
	Timeouts Timeouts
	Kind     Kind

	ChatCompletion *ChatCompletionConfig
	BestOfN        *BestOfNConfig
	MixtureOfN     *MixtureOfNConfig
	DICL           *DICLConfig
	ChainOfThought *ChainOfThoughtConfig
}

// EffectiveWeight returns the variant's configured weight, or 0 if unset.
func (c *Config) EffectiveWeight() float64 {
	if c.Weight == nil {
		return 0
	}
	return *c.Weight
}
