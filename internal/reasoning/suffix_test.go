package reasoning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSuffix_NoSuffix(t *testing.T) {
	base, sfx := ParseSuffix("claude-3-5-sonnet")
	assert.Equal(t, "claude-3-5-sonnet", base)
	assert.Equal(t, SuffixNone, sfx.Kind)
}

func TestParseSuffix_Effort(t *testing.T) {
	for _, effort := range []string{"low", "medium", "high"} {
		base, sfx := ParseSuffix("o4-mini:" + effort)
		assert.Equal(t, "o4-mini", base)
		assert.Equal(t, SuffixEffort, sfx.Kind)
		assert.Equal(t, effort, sfx.Effort)
	}
}

func TestParseSuffix_KNotation(t *testing.T) {
	base, sfx := ParseSuffix("claude-3-7-sonnet:8k")
	assert.Equal(t, "claude-3-7-sonnet", base)
	assert.Equal(t, SuffixBudget, sfx.Kind)
	assert.Equal(t, 8192, sfx.Budget)
}

func TestParseSuffix_BareInteger(t *testing.T) {
	base, sfx := ParseSuffix("gemini-2.5-flash:4096")
	assert.Equal(t, "gemini-2.5-flash", base)
	assert.Equal(t, SuffixBudget, sfx.Kind)
	assert.Equal(t, 4096, sfx.Budget)
}

func TestParseSuffix_Unrecognized(t *testing.T) {
	base, sfx := ParseSuffix("claude-3-opus:banana")
	assert.Equal(t, "claude-3-opus", base)
	assert.Equal(t, SuffixUnrecognized, sfx.Kind)
	assert.Equal(t, "banana", sfx.Raw)
}

func TestParseSuffix_PathSegmentKeepsSlashPrefix(t *testing.T) {
	base, sfx := ParseSuffix("openrouter/o4-mini:high")
	assert.Equal(t, "openrouter/o4-mini", base)
	assert.Equal(t, SuffixEffort, sfx.Kind)
	assert.Equal(t, "high", sfx.Effort)
}

// Round trip: parse(base + ":" + format(suffix)) == (base, suffix).
func TestParseSuffix_Idempotent(t *testing.T) {
	cases := []struct {
		text string
		want Suffix
	}{
		{"low", Suffix{Kind: SuffixEffort, Effort: "low"}},
		{"medium", Suffix{Kind: SuffixEffort, Effort: "medium"}},
		{"high", Suffix{Kind: SuffixEffort, Effort: "high"}},
		{"1k", Suffix{Kind: SuffixBudget, Budget: 1024}},
		{"16k", Suffix{Kind: SuffixBudget, Budget: 16384}},
		{"0", Suffix{Kind: SuffixBudget, Budget: 0}},
		{"2048", Suffix{Kind: SuffixBudget, Budget: 2048}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			base, sfx := ParseSuffix(fmt.Sprintf("some-model:%s", tc.text))
			assert.Equal(t, "some-model", base)
			assert.Equal(t, tc.want, sfx)
		})
	}
}
