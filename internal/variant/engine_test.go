package variant

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/lattice-ai/inference-gateway/internal/historystore"
	"github.com/lattice-ai/inference-gateway/internal/modelrouter"
	"github.com/lattice-ai/inference-gateway/providers"
	"github.com/lattice-ai/inference-gateway/providers/dummy"
)

func routerFor(modelName string) *modelrouter.Router {
	return modelrouter.New(&modelrouter.Config{
		Name:    modelName,
		Routing: []string{"dummy"},
		Providers: map[string]*modelrouter.Entry{
			"dummy": {Name: "dummy", Provider: dummy.New()},
		},
	})
}

func userText(s string) providers.Message {
	return providers.Message{Role: providers.RoleUser, Content: []providers.ContentBlock{
		providers.Text{Kind: providers.TextKindString, String: s},
	}}
}

func outputText(blocks []providers.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if t, ok := blk.(providers.Text); ok && t.Kind == providers.TextKindString {
			b.WriteString(t.String)
		}
	}
	return b.String()
}

func TestInferChatCompletion(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{"good": routerFor("good")}}
	cfg := &Config{Name: "v1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good"}}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := outputText(result.Output); got != "hello from the dummy provider" {
		t.Fatalf("unexpected output: %q", got)
	}
	if len(result.ModelInferenceResults) != 1 {
		t.Fatalf("expected 1 model inference result, got %d", len(result.ModelInferenceResults))
	}
}

func TestInferChatCompletionImplicitToolSynthesizesToolCall(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{"good_tool": routerFor("good_tool")}}
	mode := providers.JSONModeImplicitTool
	cfg := &Config{Name: "v1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good_tool", JSONMode: &mode}}
	req := Request{
		FunctionName: "fn",
		Messages:     []providers.Message{userText("give me the answer")},
		JSONMode:     providers.JSONModeOn,
		OutputSchema: []byte(`{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`),
	}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	var call *providers.ToolCall
	for _, b := range result.Output {
		if tc, ok := b.(providers.ToolCall); ok {
			call = &tc
		}
	}
	if call == nil {
		t.Fatalf("expected a tool call in the output, got %+v", result.Output)
	}
	if call.Name != "respond" {
		t.Fatalf("expected the default synthesized tool name %q, got %q", "respond", call.Name)
	}
	if string(call.Arguments) != `{"answer":"42"}` {
		t.Fatalf("unexpected tool call arguments: %s", call.Arguments)
	}
}

// flakyProvider fails its first `failures` calls with a server-side
// ProviderError, then succeeds, so tests can exercise callModelWithRetry's
// backoff loop without a real flaky network.
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string                    { return "flaky" }
func (p *flakyProvider) ThoughtBlockProviderType() string { return "flaky" }

func (p *flakyProvider) Infer(ctx context.Context, req providers.ProviderRequest) (*providers.ProviderResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &providers.ProviderError{ProviderName: "flaky", StatusCode: 500, Server: true, Cause: errFlaky}
	}
	reason := "stop"
	return &providers.ProviderResponse{
		Output:       []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "recovered"}},
		RawRequest:   "{}",
		RawResponse:  "{}",
		Usage:        providers.Usage{InputTokens: 1, OutputTokens: 1},
		FinishReason: &reason,
	}, nil
}

var errFlaky = fmt.Errorf("flaky: simulated failure")

func routerWithProvider(modelName string, p providers.Provider) *modelrouter.Router {
	return modelrouter.New(&modelrouter.Config{
		Name:    modelName,
		Routing: []string{"flaky"},
		Providers: map[string]*modelrouter.Entry{
			"flaky": {Name: "flaky", Provider: p},
		},
	})
}

func TestInferChatCompletionRetriesOnFailure(t *testing.T) {
	p := &flakyProvider{failures: 2}
	deps := &Deps{Models: map[string]*modelrouter.Router{"flaky-model": routerWithProvider("flaky-model", p)}}
	cfg := &Config{Name: "v1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{
		Model:   "flaky-model",
		Retries: RetryConfig{NumRetries: 2, MaxDelayS: 0.01},
	}}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if got := outputText(result.Output); got != "recovered" {
		t.Fatalf("unexpected output: %q", got)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", p.calls)
	}
}

func TestInferChatCompletionExhaustsRetriesAndFails(t *testing.T) {
	p := &flakyProvider{failures: 5}
	deps := &Deps{Models: map[string]*modelrouter.Router{"flaky-model": routerWithProvider("flaky-model", p)}}
	cfg := &Config{Name: "v1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{
		Model:   "flaky-model",
		Retries: RetryConfig{NumRetries: 1, MaxDelayS: 0.01},
	}}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}}

	if _, err := Infer(context.Background(), cfg, deps, req); err == nil {
		t.Fatalf("expected an error once retries are exhausted")
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly 2 attempts (1 initial + 1 retry), got %d", p.calls)
	}
}

func TestInferStreamChatCompletion(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{"good": routerFor("good")}}
	cfg := &Config{Name: "v1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good"}}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}}

	ch, err := InferStream(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("InferStream: %v", err)
	}
	var full strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("stream error: %v", chunk.Error)
		}
		full.WriteString(outputText(chunk.Output))
	}
	if full.String() != "hello from the dummy provider" {
		t.Fatalf("unexpected streamed output: %q", full.String())
	}
}

func TestInferChainOfThoughtSplitsFinalAnswer(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{"echo": routerFor("echo")}}
	cfg := &Config{
		Name: "v1", Kind: KindChainOfThought,
		ChainOfThought: &ChainOfThoughtConfig{Inner: &ChatCompletionConfig{Model: "echo"}},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("step one, step two. Final Answer: 42")}}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(result.Output) != 2 {
		t.Fatalf("expected a thought block + a text block, got %d blocks", len(result.Output))
	}
	thought, ok := result.Output[0].(providers.Thought)
	if !ok {
		t.Fatalf("expected first block to be a Thought, got %T", result.Output[0])
	}
	if !strings.Contains(thought.Text, "step one") {
		t.Fatalf("unexpected thought text: %q", thought.Text)
	}
	final, ok := result.Output[1].(providers.Text)
	if !ok || final.String != "42" {
		t.Fatalf("expected final answer text block \"42\", got %+v", result.Output[1])
	}
}

func TestInferBestOfNPicksACandidate(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{
		"good":      routerFor("good"),
		"good_json": routerFor("good_json"),
		"echo":      routerFor("echo"),
	}}
	siblings := map[string]*Config{
		"c0": {Name: "c0", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good"}},
		"c1": {Name: "c1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good_json"}},
	}
	cfg := &Config{
		Name: "bon", Kind: KindBestOfN,
		BestOfN: &BestOfNConfig{Candidates: []string{"c0", "c1"}, Evaluator: &ChatCompletionConfig{Model: "echo"}},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}, Siblings: siblings}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	// both candidates' model calls plus the evaluator's own call must appear.
	if len(result.ModelInferenceResults) != 3 {
		t.Fatalf("expected 3 model inference results, got %d", len(result.ModelInferenceResults))
	}
	if outputText(result.Output) == "" {
		t.Fatalf("expected a non-empty winning output")
	}
}

func TestInferBestOfNFailsWhenAllCandidatesFail(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{
		"bad":  routerFor("bad"),
		"echo": routerFor("echo"),
	}}
	siblings := map[string]*Config{
		"c0": {Name: "c0", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "bad"}},
	}
	cfg := &Config{
		Name: "bon", Kind: KindBestOfN,
		BestOfN: &BestOfNConfig{Candidates: []string{"c0"}, Evaluator: &ChatCompletionConfig{Model: "echo"}},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}, Siblings: siblings}

	if _, err := Infer(context.Background(), cfg, deps, req); err == nil {
		t.Fatalf("expected error when every candidate fails")
	}
}

func TestInferMixtureOfNFusesCandidates(t *testing.T) {
	deps := &Deps{Models: map[string]*modelrouter.Router{
		"good":      routerFor("good"),
		"good_json": routerFor("good_json"),
	}}
	siblings := map[string]*Config{
		"c0": {Name: "c0", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good"}},
		"c1": {Name: "c1", Kind: KindChatCompletion, ChatCompletion: &ChatCompletionConfig{Model: "good_json"}},
	}
	cfg := &Config{
		Name: "mon", Kind: KindMixtureOfN,
		MixtureOfN: &MixtureOfNConfig{Candidates: []string{"c0", "c1"}, Fuser: &ChatCompletionConfig{Model: "good_json"}},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}, Siblings: siblings}

	result, err := Infer(context.Background(), cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(result.ModelInferenceResults) != 3 {
		t.Fatalf("expected 3 model inference results, got %d", len(result.ModelInferenceResults))
	}
	if outputText(result.Output) != `{"answer":"42"}` {
		t.Fatalf("unexpected fused output: %q", outputText(result.Output))
	}
}

func TestInferDICLRetrievesExamplesAndCallsModel(t *testing.T) {
	history := historystore.NewMemory()
	ctx := context.Background()
	_ = history.Insert(ctx, "fn", "d1", historystore.Example{ID: "a", Input: "hi", Output: "hello back", Embedding: []float64{1, 0}})

	deps := &Deps{
		Models:          map[string]*modelrouter.Router{"good": routerFor("good")},
		EmbeddingModels: map[string]providers.Embedder{"embed": dummy.New()},
		History:         history,
	}
	cfg := &Config{
		Name: "d1", Kind: KindDICL,
		DICL: &DICLConfig{EmbeddingModel: "embed", Model: "good", K: 1, SystemInstructions: "Use the examples."},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{userText("hi")}}

	result, err := Infer(ctx, cfg, deps, req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if outputText(result.Output) != "hello from the dummy provider" {
		t.Fatalf("unexpected output: %q", outputText(result.Output))
	}
	if len(result.ModelInferenceResults) != 2 {
		t.Fatalf("expected embedding call + chat call in model_inference_results, got %d", len(result.ModelInferenceResults))
	}
	if result.ModelInferenceResults[0].ModelName != "embed" {
		t.Fatalf("expected first model_inference_result to be the embedding call, got %+v", result.ModelInferenceResults[0])
	}
}

func TestInferDICLRejectsFileBlocks(t *testing.T) {
	deps := &Deps{
		Models:          map[string]*modelrouter.Router{"good": routerFor("good")},
		EmbeddingModels: map[string]providers.Embedder{"embed": dummy.New()},
		History:         historystore.NewMemory(),
	}
	cfg := &Config{
		Name: "d1", Kind: KindDICL,
		DICL: &DICLConfig{EmbeddingModel: "embed", Model: "good", K: 1},
	}
	req := Request{FunctionName: "fn", Messages: []providers.Message{
		{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.File{Data: "xx", MimeType: "image/png"}}},
	}}

	_, err := Infer(context.Background(), cfg, deps, req)
	if err == nil {
		t.Fatalf("expected error for file content block")
	}
	unsupported, ok := err.(*providers.UnsupportedContentBlockError)
	if !ok {
		t.Fatalf("expected *providers.UnsupportedContentBlockError, got %T", err)
	}
	if unsupported.ContentBlockType != "file" {
		t.Fatalf("unexpected content block type: %q", unsupported.ContentBlockType)
	}
}

func TestInferStreamUnsupportedForBestOfN(t *testing.T) {
	cfg := &Config{Name: "bon", Kind: KindBestOfN, BestOfN: &BestOfNConfig{}}
	_, err := InferStream(context.Background(), cfg, &Deps{}, Request{})
	if _, ok := err.(*UnsupportedStreamingError); !ok {
		t.Fatalf("expected *UnsupportedStreamingError, got %T (%v)", err, err)
	}
}
