package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexo-dev/plexo/internal/protocol"
)

func textRequest(text string) *protocol.AnthropicRequest {
	return &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			{Role: "user", Content: protocol.MessageContent{IsText: true, Text: text}},
		},
	}
}

func TestEstimate_NonZero(t *testing.T) {
	n, err := Estimate(textRequest("hello world, how are you today?"))
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestEstimate_GrowsWithInput(t *testing.T) {
	small, err := Estimate(textRequest("hi"))
	require.NoError(t, err)
	large, err := Estimate(textRequest(strings.Repeat("many words in a long message ", 50)))
	require.NoError(t, err)
	assert.Greater(t, large, small)
}

func TestEstimate_CountsSystemAndTools(t *testing.T) {
	base := textRequest("hi")
	n1, err := Estimate(base)
	require.NoError(t, err)

	withExtras := textRequest("hi")
	withExtras.System = protocol.SystemPrompt{Set: true, IsText: true, Text: "you are a helpful assistant"}
	withExtras.Tools = []protocol.Tool{{
		Name:        "get_weather",
		Description: "look up the weather",
		InputSchema: []byte(`{"type":"object","properties":{"location":{"type":"string"}}}`),
	}}
	n2, err := Estimate(withExtras)
	require.NoError(t, err)
	assert.Greater(t, n2, n1)
}

func TestEstimate_ToolUseAndResultBlocks(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			{Role: "assistant", Content: protocol.MessageContent{Blocks: []protocol.ContentBlock{
				{Type: protocol.BlockTypeToolUse, ID: "toolu_1", Name: "get_weather", Input: []byte(`{"location":"NYC"}`)},
			}}},
			{Role: "user", Content: protocol.MessageContent{Blocks: []protocol.ContentBlock{
				{Type: protocol.BlockTypeToolResult, ToolUseID: "toolu_1",
					Content: &protocol.ToolResultContent{IsText: true, Text: "72 and sunny"}},
			}}},
		},
	}
	n, err := Estimate(req)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
