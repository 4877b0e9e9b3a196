package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate("   "))
	assert.Equal(t, 1, Estimate("hi"))
	assert.Equal(t, 4, Estimate("one two three"))
	// No spaces: the character count wins.
	assert.Equal(t, 10, Estimate(strings.Repeat("字", 40)))
}

func TestBudget(t *testing.T) {
	assert.Equal(t, 64, Budget("short", 64, 4096))
	assert.Equal(t, 4096, Budget(strings.Repeat("word ", 10000), 64, 4096))

	mid := Budget(strings.Repeat("word ", 300), 64, 4096)
	assert.Equal(t, 400*3/2+32, mid)
}
