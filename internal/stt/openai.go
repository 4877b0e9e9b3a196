package stt

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// OpenAIConfig holds configuration for the OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL string // default: "https://api.openai.com/v1"
	Model   string // default: "whisper-1"
}

// OpenAI transcribes audio using OpenAI's Whisper API or any compatible
// endpoint, such as a local whisper.cpp server.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &OpenAI{cfg: cfg, httpClient: &http.Client{}}
}

func (o *OpenAI) Name() string         { return "openai" }
func (o *OpenAI) DefaultModel() string { return o.cfg.Model }

func (o *OpenAI) Send(ctx context.Context, req Request, apiKey, model string) (map[string]any, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writeAudioPart(mw, req); err != nil {
		return nil, err
	}

	_ = mw.WriteField("model", model)
	_ = mw.WriteField("response_format", "json")

	opts := req.Options
	if opts.LanguageCode != "" {
		_ = mw.WriteField("language", opts.LanguageCode)
	}
	if opts.Temperature != nil {
		_ = mw.WriteField("temperature", strconv.FormatFloat(*opts.Temperature, 'f', -1, 64))
	}
	// Whisper has no key-term list; a prompt containing the terms biases spelling the same way.
	if len(opts.Keyterms) > 0 {
		_ = mw.WriteField("prompt", strings.Join(opts.Keyterms, ", "))
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("create transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return doJSON(o.httpClient, httpReq)
}
