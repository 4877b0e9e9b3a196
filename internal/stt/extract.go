package stt

import "strings"

// transcriptFields are tried in order; providers and their versions disagree on the name.
var transcriptFields = []string{"text", "transcript", "transcription", "output_text"}

// extractText returns the first non-empty string among the candidate fields.
func extractText(payload map[string]any) (string, bool) {
	for _, field := range transcriptFields {
		if s, ok := payload[field].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
		}
	}
	return "", false
}
