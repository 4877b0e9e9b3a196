package guardrails

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// LengthGuard rejects rewrites that shrink or grow far beyond what cleanup
// can explain. A model that answers the dictated text instead of cleaning it
// usually trips the upper bound.
type LengthGuard struct {
	minRatio float64
	maxRatio float64
	// slack runes are always allowed so short utterances are not judged by ratio.
	slack int
}

func NewLengthGuard(minRatio, maxRatio float64, slack int) *LengthGuard {
	return &LengthGuard{minRatio: minRatio, maxRatio: maxRatio, slack: slack}
}

func (g *LengthGuard) Name() string { return "length_ratio" }

func (g *LengthGuard) Check(_ context.Context, raw, clean string) *Result {
	r := float64(utf8.RuneCountInString(raw))
	c := float64(utf8.RuneCountInString(clean))
	slack := float64(g.slack)

	switch {
	case c > r*g.maxRatio+slack:
		return &Result{
			Reason: fmt.Sprintf("rewrite is %.0f runes for a %.0f rune transcript", c, r),
			Flags:  []string{"rewrite_too_long"},
		}
	case c+slack < r*g.minRatio:
		return &Result{
			Reason: fmt.Sprintf("rewrite is %.0f runes for a %.0f rune transcript", c, r),
			Flags:  []string{"rewrite_too_short"},
		}
	}
	return &Result{Allowed: true}
}

// LeakGuard rejects rewrites carrying instruction text, role markers or
// assistant chatter that the speaker never said.
type LeakGuard struct {
	patterns []leakPattern
}

type leakPattern struct {
	text string
	flag string
}

func NewLeakGuard() *LeakGuard {
	return &LeakGuard{patterns: []leakPattern{
		{"<system>", "tag_injection"},
		{"</system>", "tag_injection"},
		{"[system]", "tag_injection"},
		{"```", "format_injection"},
		{"you clean up dictated text", "system_leak"},
		{"reply with the cleaned text", "system_leak"},
		{"here is the cleaned", "assistant_chatter"},
		{"here's the cleaned", "assistant_chatter"},
		{"cleaned text:", "assistant_chatter"},
		{"as an ai", "assistant_chatter"},
		{"i'm sorry, but i can", "assistant_chatter"},
		{"i cannot help with", "assistant_chatter"},
	}}
}

func (g *LeakGuard) Name() string { return "leak" }

// Check only flags a pattern when it is absent from the transcript, so a
// speaker dictating one of these phrases is left alone.
func (g *LeakGuard) Check(_ context.Context, raw, clean string) *Result {
	lowerRaw := strings.ToLower(raw)
	lowerClean := strings.ToLower(clean)

	var flags []string
	for _, p := range g.patterns {
		if strings.Contains(lowerClean, p.text) && !strings.Contains(lowerRaw, p.text) {
			flags = append(flags, p.flag)
		}
	}
	if len(flags) > 0 {
		return &Result{Reason: "rewrite contains text the speaker did not say", Flags: flags}
	}
	return &Result{Allowed: true}
}
