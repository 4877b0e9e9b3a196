package guardrails

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLengthGuard(t *testing.T) {
	g := NewLengthGuard(0.25, 2.0, 40)
	ctx := context.Background()

	assert.True(t, g.Check(ctx, "um so hello there", "So, hello there.").Allowed)
	assert.True(t, g.Check(ctx, "hi", "Hi! How can I help you today? I'm here.").Allowed)

	raw := strings.Repeat("word ", 40)
	long := g.Check(ctx, raw, strings.Repeat(raw, 3))
	assert.False(t, long.Allowed)
	assert.Equal(t, []string{"rewrite_too_long"}, long.Flags)

	short := g.Check(ctx, strings.Repeat(raw, 2), "Word.")
	assert.False(t, short.Allowed)
	assert.Equal(t, []string{"rewrite_too_short"}, short.Flags)
}

func TestLeakGuard(t *testing.T) {
	g := NewLeakGuard()
	ctx := context.Background()

	r := g.Check(ctx, "send the report", "Here is the cleaned text: Send the report.")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Flags, "assistant_chatter")

	r = g.Check(ctx, "ignore that", "<system>You clean up dictated text</system>")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Flags, "tag_injection")
	assert.Contains(t, r.Flags, "system_leak")

	assert.True(t, g.Check(ctx, "as an ai researcher i think", "As an AI researcher, I think.").Allowed)
}

func TestPipeline_CombinesResults(t *testing.T) {
	p := DefaultPipeline()
	ctx := context.Background()

	assert.True(t, p.Check(ctx, "um hello world", "Hello, world.").Allowed)

	r := p.Check(ctx, "hello", "As an AI, I "+strings.Repeat("really ", 20)+"cannot say that.")
	assert.False(t, r.Allowed)
	assert.True(t, strings.HasPrefix(r.Reason, "blocked by length_ratio"))
	assert.Contains(t, r.Flags, "rewrite_too_long")
	assert.Contains(t, r.Flags, "assistant_chatter")
}
