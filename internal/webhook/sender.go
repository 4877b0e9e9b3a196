// Package webhook delivers usage events to an external HTTP endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/dictation/internal/usage"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-Id"

	EventUsageRecorded = "usage.recorded"
)

// Sender posts each event as JSON, signed with HMAC-SHA256 over the body.
// It implements usage.Recorder so the worker can use it as its sink.
type Sender struct {
	http   *resty.Client
	url    string
	secret string
}

func NewSender(url, secret string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		http:   resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url:    url,
		secret: secret,
	}
}

func (s *Sender) Name() string { return "webhook" }

// Record returns an error for transport failures and non-2xx answers so the
// queue retries the delivery.
func (s *Sender) Record(ctx context.Context, e usage.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader(HeaderEvent, EventUsageRecorded).
		SetHeader(HeaderID, e.RequestID).
		SetHeader(HeaderSignature, Sign(payload, s.secret)).
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("deliver usage webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("usage webhook answered %d", resp.StatusCode())
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
