package bedrock

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/lattice-ai/inference-gateway/providers"
)

func testProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("LoadDefaultConfig: %v", err)
	}
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
	})
	return &Provider{client: client, region: "us-east-1"}
}

func TestInferRejectsNonAnthropicModel(t *testing.T) {
	p := testProvider(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	_, err := p.Infer(context.Background(), providers.ProviderRequest{
		ModelName: "amazon.titan-text-express-v1",
		Request:   &providers.ModelRequest{},
	})
	if err == nil {
		t.Fatal("expected an error for a non-anthropic model family")
	}
}

func TestInferReturnsTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"content": [{"type": "text", "text": "hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 4, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := testProvider(t, srv)
	resp, err := p.Infer(context.Background(), providers.ProviderRequest{
		ModelName:    "anthropic.claude-3-5-sonnet-20241022-v2:0",
		ProviderName: "bedrock",
		Request: &providers.ModelRequest{
			Messages: []providers.Message{
				{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hello"}}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	text, ok := resp.Output[0].(providers.Text)
	if !ok || text.String != "hi there" {
		t.Fatalf("unexpected output: %+v", resp.Output)
	}
	if resp.FinishReason == nil || *resp.FinishReason != "end_turn" {
		t.Fatalf("unexpected finish reason: %v", resp.FinishReason)
	}
}

func TestBuildRequestAppliesDefaultMaxTokens(t *testing.T) {
	req := buildRequest(&providers.ModelRequest{
		Messages: []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
	})
	if req.MaxTokens != defaultMaxTokens {
		t.Fatalf("expected default max_tokens %d, got %d", defaultMaxTokens, req.MaxTokens)
	}
	if req.AnthropicVersion != anthropicVersion {
		t.Fatalf("expected anthropic_version %q, got %q", anthropicVersion, req.AnthropicVersion)
	}
}

func TestBuildRequestCarriesSystemAndTools(t *testing.T) {
	sys := "be terse"
	req := buildRequest(&providers.ModelRequest{
		System:   &sys,
		Messages: []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}},
		Tools:    []providers.Tool{{Name: "lookup"}},
	})
	if req.System != sys {
		t.Fatalf("expected system %q, got %q", sys, req.System)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "lookup" {
		t.Fatalf("expected a lookup tool, got %+v", req.Tools)
	}
}
