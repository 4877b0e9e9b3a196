// Package stt forwards audio to a speech-to-text provider with bounded retries.
package stt

import (
	"context"
	"fmt"
	"net/http"
)

// Options are optional pass-through tuning hints. Nil means "not sent".
type Options struct {
	ModelID        string
	LanguageCode   string
	Temperature    *float64
	Diarize        *bool
	TagAudioEvents *bool
	Keyterms       []string
}

// Request is a single transcription job. APIKey, when set, overrides the
// server's key for this request only.
type Request struct {
	Audio    []byte
	FileName string
	MimeType string
	Options  Options
	APIKey   string
}

// Transcript is the canonical result; Payload is the provider's decoded JSON.
type Transcript struct {
	RawText string
	ModelID string
	Payload map[string]any
}

// Provider performs exactly one upstream attempt. Retries are the Gateway's job.
type Provider interface {
	Name() string
	DefaultModel() string
	Send(ctx context.Context, req Request, apiKey, model string) (map[string]any, error)
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speech-to-text provider returned %d: %s", e.StatusCode, e.Body)
}

var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether an upstream status is worth another attempt.
func IsRetryableStatus(code int) bool {
	return retryableStatuses[code]
}
