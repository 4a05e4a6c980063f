package request

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func textMessage(role, text string) protocol.Message {
	return protocol.Message{Role: role, Content: protocol.MessageContent{IsText: true, Text: text}}
}

func blockMessage(role string, blocks ...protocol.ContentBlock) protocol.Message {
	return protocol.Message{Role: role, Content: protocol.MessageContent{Blocks: blocks}}
}

func rawInput(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestConvert_MissingMaxTokens(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []protocol.Message{textMessage("user", "hi")},
	}
	_, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.NotNil(t, perr)
	assert.Equal(t, protocol.ErrInvalidRequest, perr.Kind)
}

func TestConvert_PlainText(t *testing.T) {
	temp := 0.5
	req := &protocol.AnthropicRequest{
		Model:         "claude-3-5-sonnet",
		MaxTokens:     100,
		Temperature:   &temp,
		StopSequences: []string{"END"},
		Stream:        true,
		Messages:      []protocol.Message{textMessage("user", "hi")},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.Equal(t, 100, out.MaxTokens)
	assert.Zero(t, out.MaxCompletionTokens)
	assert.Equal(t, []string{"END"}, out.Stop)
	assert.True(t, out.Stream)
	require.NotNil(t, out.StreamOptions)
	assert.True(t, out.StreamOptions.IncludeUsage)

	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "hi", out.Messages[0].Content)
}

func TestConvert_SystemBlocksCollapse(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		System: protocol.SystemPrompt{Set: true, Blocks: []protocol.ContentBlock{
			{Type: protocol.BlockTypeText, Text: "one"},
			{Type: protocol.BlockTypeText, Text: "two"},
		}},
		Messages: []protocol.Message{textMessage("user", "hi")},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "one\ntwo", out.Messages[0].Content)
}

func TestConvert_ImageBecomesDataURL(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{blockMessage("user",
			protocol.ContentBlock{Type: protocol.BlockTypeText, Text: "what is this"},
			protocol.ContentBlock{Type: protocol.BlockTypeImage, Source: &protocol.ImageSource{
				Type: "base64", MediaType: "image/jpeg", Data: "abc123",
			}},
		)},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	require.Len(t, out.Messages, 1)
	parts, ok := out.Messages[0].Content.([]protocol.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,abc123", parts[1].ImageURL.URL)
}

func TestConvert_ToolResultSplitsInOrder(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			blockMessage("assistant",
				protocol.ContentBlock{Type: protocol.BlockTypeToolUse, ID: "toolu_1", Name: "get_weather", Input: rawInput(t, map[string]string{"location": "NYC"})},
			),
			blockMessage("user",
				protocol.ContentBlock{Type: protocol.BlockTypeText, Text: "before"},
				protocol.ContentBlock{Type: protocol.BlockTypeToolResult, ToolUseID: "toolu_1",
					Content: &protocol.ToolResultContent{IsText: true, Text: "sunny"}, IsError: true},
				protocol.ContentBlock{Type: protocol.BlockTypeText, Text: "after"},
			),
		},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	// assistant, user("before"), tool, user("after")
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "assistant", out.Messages[0].Role)
	assert.Equal(t, "before", out.Messages[1].Content)
	assert.Equal(t, "tool", out.Messages[2].Role)
	assert.Equal(t, "toolu_1", out.Messages[2].ToolCallID)
	assert.Equal(t, "[error] sunny", out.Messages[2].Content)
	assert.Equal(t, "after", out.Messages[3].Content)
}

func TestConvert_DanglingToolResult(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			blockMessage("user",
				protocol.ContentBlock{Type: protocol.BlockTypeToolResult, ToolUseID: "toolu_missing",
					Content: &protocol.ToolResultContent{IsText: true, Text: "x"}},
			),
		},
	}

	_, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.NotNil(t, perr)
	assert.Equal(t, protocol.ErrInvalidRequest, perr.Kind)
}

func TestConvert_UnknownRole(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages:  []protocol.Message{textMessage("moderator", "hm")},
	}
	_, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.NotNil(t, perr)
	assert.Equal(t, protocol.ErrInvalidRequest, perr.Kind)
}

func TestConvert_AssistantTextAndToolCalls(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			blockMessage("assistant",
				protocol.ContentBlock{Type: protocol.BlockTypeThinking, Thinking: "pondering"},
				protocol.ContentBlock{Type: protocol.BlockTypeText, Text: "checking"},
				protocol.ContentBlock{Type: protocol.BlockTypeToolUse, ID: "toolu_1", Name: "get_weather",
					Input: rawInput(t, map[string]string{"location": "NYC"})},
			),
		},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	require.Len(t, out.Messages, 1)
	msg := out.Messages[0]
	assert.Equal(t, "checking", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "function", msg.ToolCalls[0].Type)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"location":"NYC"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestConvert_ToolsAndToolChoice(t *testing.T) {
	schema := rawInput(t, map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"location": map[string]string{"type": "string"}},
	})
	req := &protocol.AnthropicRequest{
		Model:      "claude-3-5-sonnet",
		MaxTokens:  10,
		Messages:   []protocol.Message{textMessage("user", "weather?")},
		Tools:      []protocol.Tool{{Name: "get_weather", Description: "weather lookup", InputSchema: schema}},
		ToolChoice: &protocol.ToolChoice{Type: "tool", Name: "get_weather"},
	}

	out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.Nil(t, perr)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Function.Name)

	choice, ok := out.ToolChoice.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "function", choice["type"])
}

func TestConvert_ToolChoiceKeywords(t *testing.T) {
	for anthropicChoice, want := range map[string]string{"auto": "auto", "any": "required", "none": "none"} {
		req := &protocol.AnthropicRequest{
			Model:      "claude-3-5-sonnet",
			MaxTokens:  10,
			Messages:   []protocol.Message{textMessage("user", "hi")},
			ToolChoice: &protocol.ToolChoice{Type: anthropicChoice},
		}
		out, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
		require.Nil(t, perr, anthropicChoice)
		assert.Equal(t, want, out.ToolChoice, anthropicChoice)
	}
}

func TestConvert_ToolChoiceRequiresSchema(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:      "claude-3-5-sonnet",
		MaxTokens:  10,
		Messages:   []protocol.Message{textMessage("user", "hi")},
		Tools:      []protocol.Tool{{Name: "bare"}},
		ToolChoice: &protocol.ToolChoice{Type: "any"},
	}
	_, perr := Convert(req, "gpt-4o-mini", nil, nil, testLog())
	require.NotNil(t, perr)
	assert.Equal(t, protocol.ErrInvalidRequest, perr.Kind)
}

// Reasoning suffix routing: o4-mini:high becomes extra_body.reasoning with
// max_completion_tokens instead of max_tokens.
func TestConvert_ReasoningPlacementOpenAI(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "o4-mini:high",
		MaxTokens: 1000,
		Messages:  []protocol.Message{textMessage("user", "hi")},
	}
	cfg := &reasoning.Config{Kind: reasoning.KindOpenAIEffort, Effort: "high"}

	out, perr := Convert(req, "o4-mini", cfg, nil, testLog())
	require.Nil(t, perr)
	assert.Zero(t, out.MaxTokens)
	assert.Equal(t, 1000, out.MaxCompletionTokens)

	body, err := out.MarshalBody()
	require.NoError(t, err)
	assert.Equal(t, "high", gjson.GetBytes(body, "reasoning.effort").String())
	assert.False(t, gjson.GetBytes(body, "max_tokens").Exists())
}

func TestConvert_ReasoningPlacementAnthropic(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-7-sonnet:8k",
		MaxTokens: 1000,
		Messages:  []protocol.Message{textMessage("user", "hi")},
	}
	cfg := &reasoning.Config{Kind: reasoning.KindAnthropicThinking, Budget: 8192}

	out, perr := Convert(req, "claude-3-7-sonnet", cfg, nil, testLog())
	require.Nil(t, perr)
	body, err := out.MarshalBody()
	require.NoError(t, err)
	assert.Equal(t, "enabled", gjson.GetBytes(body, "thinking.type").String())
	assert.Equal(t, int64(8192), gjson.GetBytes(body, "thinking.budget_tokens").Int())
}

func TestConvert_ReasoningPlacementGemini(t *testing.T) {
	req := &protocol.AnthropicRequest{
		Model:     "gemini-2.5-flash:4096",
		MaxTokens: 1000,
		Messages:  []protocol.Message{textMessage("user", "hi")},
	}
	cfg := &reasoning.Config{Kind: reasoning.KindGeminiThinking, Budget: 4096}

	out, perr := Convert(req, "gemini-2.5-flash", cfg, nil, testLog())
	require.Nil(t, perr)
	body, err := out.MarshalBody()
	require.NoError(t, err)
	assert.Equal(t, int64(4096),
		gjson.GetBytes(body, "generation_config.thinking_config.thinking_budget").Int())
}

// Replayed assistant tool calls restore the upstream argument dialect so
// the upstream recognizes its own prior call.
func TestConvert_RestoresUpstreamArgKey(t *testing.T) {
	dialects := map[string]router.ToolDialect{
		"Bash": {UpstreamKey: "prompt", ClientKey: "command"},
	}
	req := &protocol.AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 10,
		Messages: []protocol.Message{
			blockMessage("assistant",
				protocol.ContentBlock{Type: protocol.BlockTypeToolUse, ID: "toolu_1", Name: "Bash",
					Input: rawInput(t, map[string]string{"command": "ls -la"})},
			),
			blockMessage("user",
				protocol.ContentBlock{Type: protocol.BlockTypeToolResult, ToolUseID: "toolu_1",
					Content: &protocol.ToolResultContent{IsText: true, Text: "files"}},
			),
		},
	}

	out, perr := Convert(req, "gemini-2.5-flash", nil, dialects, testLog())
	require.Nil(t, perr)
	args := out.Messages[0].ToolCalls[0].Function.Arguments
	assert.JSONEq(t, `{"prompt":"ls -la"}`, args)
}
