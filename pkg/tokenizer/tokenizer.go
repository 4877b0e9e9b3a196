// Package tokenizer estimates token counts without a model-specific vocabulary.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Estimate returns a rough token count for text: the larger of the
// word-based and character-based guesses, so dense scripts without spaces
// are not undercounted. Empty text counts as zero.
func Estimate(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / 4
	return max(byWords, byChars, 1)
}

// Budget returns a completion limit for rewriting text: room for the text to
// grow by half plus slack, clamped to [floor, ceiling].
func Budget(text string, floor, ceiling int) int {
	n := Estimate(text)*3/2 + 32
	return min(max(n, floor), ceiling)
}
