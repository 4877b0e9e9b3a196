// Package redact masks credentials before headers or bodies reach the log.
package redact

import (
	"encoding/json"
	"net/http"
	"strings"
)

const Mask = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization":        true,
	"cookie":               true,
	"set-cookie":           true,
	"x-api-key":            true,
	"x-openai-api-key":     true,
	"x-elevenlabs-api-key": true,
	"xi-api-key":           true,
	"apikey":               true,
}

var sensitiveFields = map[string]bool{
	"password":      true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"token":         true,
}

// Headers returns a flat copy of h with credential headers masked.
func Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if sensitiveHeaders[strings.ToLower(name)] {
			out[name] = Mask
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// JSON masks sensitive fields at any depth. Input that is not JSON is
// returned fully masked since its contents are unknown.
func JSON(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		if len(body) == 0 {
			return ""
		}
		return Mask
	}
	out, err := json.Marshal(walk(v))
	if err != nil {
		return Mask
	}
	return string(out)
}

func walk(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if sensitiveFields[strings.ToLower(k)] {
				t[k] = Mask
				continue
			}
			t[k] = walk(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = walk(t[i])
		}
		return t
	default:
		return v
	}
}
