package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOllamaModel = "llama3"

// OllamaProvider rewrites with a self-hosted model over the /api/chat endpoint.
// No key is involved, so caller keys never route here.
type OllamaProvider struct {
	client *resty.Client
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &OllamaProvider{client: c}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) DefaultModel() string { return defaultOllamaModel }

type ollamaChatReq struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResp struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	started := time.Now()

	body := ollamaChatReq{Model: req.Model, Stream: false}
	if body.Model == "" {
		body.Model = defaultOllamaModel
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage(m))
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	var out ollamaChatResp
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode(), truncate(resp.String(), 512))
	}

	model := out.Model
	if model == "" {
		model = body.Model
	}
	return &ChatResponse{
		Provider:     p.Name(),
		Model:        model,
		Content:      out.Message.Content,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		TotalTokens:  out.PromptEvalCount + out.EvalCount,
		LatencyMs:    time.Since(started).Milliseconds(),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
