// Package respond writes JSON bodies and the error envelope shared by every route.
package respond

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/redact"
)

// HeaderRequestID is read from requests and echoed on every response.
const HeaderRequestID = "X-Request-Id"

type ctxKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response body", "error", err)
	}
}

type errorBody struct {
	Code    apperror.Code  `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

// Error renders err in the error envelope and logs it once, at error level
// for server-side failures and warn otherwise.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperror.From(err)
	requestID := RequestID(r.Context())

	attrs := []any{
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", ae.Status,
		"code", ae.Code,
		"message", ae.Message,
		"headers", redact.Headers(r.Header),
	}
	if ae.Details != nil {
		attrs = append(attrs, "details", ae.Details)
	}
	if ae.Cause != nil {
		attrs = append(attrs, "cause", ae.Cause.Error())
	}
	if ae.Status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		slog.WarnContext(r.Context(), "request rejected", attrs...)
	}

	JSON(w, ae.Status, envelope{
		Error: errorBody{
			Code:    ae.Code,
			Message: ae.Message,
			Details: publicDetails(ae),
		},
		RequestID: requestID,
	})
}

// publicDetails adds a retryable hint for transient failures. ae.Details is
// not modified since errors may be shared.
func publicDetails(ae *apperror.Error) map[string]any {
	if !ae.Retryable() {
		return ae.Details
	}
	out := make(map[string]any, len(ae.Details)+1)
	for k, v := range ae.Details {
		out[k] = v
	}
	out["retryable"] = true
	return out
}
