package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/dictation/internal/redact"
)

const (
	defaultElevenLabsURL   = "https://api.elevenlabs.io"
	defaultElevenLabsModel = "scribe_v1"
)

type ElevenLabsConfig struct {
	BaseURL string
	Model   string
}

// ElevenLabs transcribes audio with the ElevenLabs speech-to-text API.
type ElevenLabs struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultElevenLabsModel
	}
	return &ElevenLabs{cfg: cfg, httpClient: &http.Client{}}
}

func (e *ElevenLabs) Name() string         { return "elevenlabs" }
func (e *ElevenLabs) DefaultModel() string { return e.cfg.Model }

func (e *ElevenLabs) Send(ctx context.Context, req Request, apiKey, model string) (map[string]any, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writeAudioPart(mw, req); err != nil {
		return nil, err
	}
	_ = mw.WriteField("model_id", model)

	opts := req.Options
	if opts.LanguageCode != "" {
		_ = mw.WriteField("language_code", opts.LanguageCode)
	}
	if opts.Temperature != nil {
		_ = mw.WriteField("temperature", strconv.FormatFloat(*opts.Temperature, 'f', -1, 64))
	}
	if opts.Diarize != nil {
		_ = mw.WriteField("diarize", strconv.FormatBool(*opts.Diarize))
	}
	if opts.TagAudioEvents != nil {
		_ = mw.WriteField("tag_audio_events", strconv.FormatBool(*opts.TagAudioEvents))
	}
	for _, term := range opts.Keyterms {
		_ = mw.WriteField("keyterms", term)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return nil, fmt.Errorf("create transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("xi-api-key", apiKey)

	return doJSON(e.httpClient, httpReq)
}

func writeAudioPart(mw *multipart.Writer, req Request) error {
	name := req.FileName
	if name == "" {
		name = "audio.webm"
	}
	mime := req.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mime)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	return nil
}

// doJSON executes one request and decodes a JSON object body.
func doJSON(client *http.Client, req *http.Request) (map[string]any, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: bodySnippet(respBody)}
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &contractError{reason: "response is not a JSON object", err: err}
	}
	return payload, nil
}

// bodySnippet is the masked, truncated error body kept for logs.
func bodySnippet(body []byte) string {
	s := redact.JSON(bytes.TrimSpace(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// contractError is a 2xx answer the gateway cannot use. It is never retried.
type contractError struct {
	reason string
	err    error
}

func (e *contractError) Error() string {
	if e.err != nil {
		return e.reason + ": " + e.err.Error()
	}
	return e.reason
}

func (e *contractError) Unwrap() error { return e.err }
