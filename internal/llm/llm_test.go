package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/dictation/internal/config"
)

type stubProvider struct {
	name string
	last ChatRequest
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) DefaultModel() string { return s.name + "-default" }

func (s *stubProvider) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.last = req
	return &ChatResponse{Provider: s.name, Content: "ok"}, nil
}

func TestGateway_RoutesToDefault(t *testing.T) {
	a := &stubProvider{name: "anthropic"}
	gw := NewGatewayWithProviders("anthropic", a, &stubProvider{name: "openai"})

	resp, err := gw.Chat(context.Background(), ChatRequest{Model: "claude-x"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-x", a.last.Model)
}

func TestGateway_CallerKeyForcesOpenAI(t *testing.T) {
	a := &stubProvider{name: "anthropic"}
	o := &stubProvider{name: "openai"}
	gw := NewGatewayWithProviders("anthropic", a, o)

	resp, err := gw.Chat(context.Background(), ChatRequest{Model: "claude-x", APIKey: "sk-caller"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "", o.last.Model)
	assert.Equal(t, "sk-caller", o.last.APIKey)
}

func TestGateway_UnknownProvider(t *testing.T) {
	gw := NewGatewayWithProviders("ollama")
	_, err := gw.Chat(context.Background(), ChatRequest{})
	assert.ErrorContains(t, err, `"ollama"`)
}

func TestNewGateway_RegistersConfiguredProviders(t *testing.T) {
	gw := NewGateway(config.RewriteConfig{Provider: "openai"})
	_, err := gw.Provider("openai")
	assert.NoError(t, err)
	_, err = gw.Provider("anthropic")
	assert.Error(t, err)

	gw = NewGateway(config.RewriteConfig{Provider: "ollama", AnthropicKey: "k", OllamaURL: "http://localhost:11434"})
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		_, err := gw.Provider(name)
		assert.NoError(t, err, name)
	}
	assert.Equal(t, "ollama", gw.DefaultProvider())
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, defaultOllamaModel, req.Model)
		require.NotNil(t, req.Options)
		assert.Equal(t, 100, req.Options.NumPredict)

		_ = json.NewEncoder(w).Encode(ollamaChatResp{
			Model:           req.Model,
			Message:         ollamaMessage{Role: "assistant", Content: "Clean text."},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL).ChatCompletion(context.Background(), ChatRequest{
		Messages:  []Message{{Role: "user", Content: "clean text"}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Clean text.", resp.Content)
	assert.Equal(t, 15, resp.TotalTokens)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL).ChatCompletion(context.Background(), ChatRequest{})
	assert.ErrorContains(t, err, "404")
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.00015+0.0006, CalculateCost("gpt-4o-mini", 1000, 1000), 1e-12)
	assert.Zero(t, CalculateCost("llama3", 1000, 1000))
}

func TestOpenAIProvider_UsesCallerKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Hi."},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-server", srv.URL+"/v1")

	resp, err := p.ChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-server", auth)
	assert.Equal(t, "Hi.", resp.Content)
	assert.Equal(t, 12, resp.TotalTokens)

	_, err = p.ChatCompletion(context.Background(), ChatRequest{APIKey: "sk-caller", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-caller", auth)
}

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]Message{
		{Role: "system", Content: "one"},
		{Role: "user", Content: "hello"},
		{Role: "system", Content: "two"},
		{Role: "assistant", Content: "hi"},
	})
	assert.Equal(t, "one\n\ntwo", system)
	assert.Len(t, turns, 2)
}
