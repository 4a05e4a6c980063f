package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Anthropic content block types
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeThinking   = "thinking"
)

// Anthropic stop reasons
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"
	StopReasonError        = "error"
)

// AnthropicRequest is an incoming Anthropic Messages API request.
type AnthropicRequest struct {
	Model         string                 `json:"model"`
	Messages      []Message              `json:"messages"`
	System        SystemPrompt           `json:"system,omitempty"`
	MaxTokens     int                    `json:"max_tokens"`
	Temperature   *float64               `json:"temperature,omitempty"`
	TopP          *float64               `json:"top_p,omitempty"`
	TopK          *int                   `json:"top_k,omitempty"`
	StopSequences []string               `json:"stop_sequences,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	Tools         []Tool                 `json:"tools,omitempty"`
	ToolChoice    *ToolChoice            `json:"tool_choice,omitempty"`
	Thinking      *ThinkingParam         `json:"thinking,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered list of content
// blocks. Block order is preserved through every conversion.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		mc.Text = s
		mc.IsText = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("message content must be a string or a block list: %w", err)
	}
	mc.Blocks = blocks
	return nil
}

func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsText {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Blocks)
}

// AsBlocks normalizes the content to a block list. Plain strings become a
// single text block.
func (mc MessageContent) AsBlocks() []ContentBlock {
	if mc.IsText {
		return []ContentBlock{{Type: BlockTypeText, Text: mc.Text}}
	}
	return mc.Blocks
}

// ContentBlock is the tagged union for Anthropic message content. The Type
// field decides which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ImageSource carries base64 image data.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// DataURL renders the image as an OpenAI-style data URL.
func (s *ImageSource) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", s.MediaType, s.Data)
}

// ToolResultContent is either a plain string or a nested block list.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (tc *ToolResultContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		tc.Text = s
		tc.IsText = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("tool_result content must be a string or a block list: %w", err)
	}
	tc.Blocks = blocks
	return nil
}

func (tc ToolResultContent) MarshalJSON() ([]byte, error) {
	if tc.IsText {
		return json.Marshal(tc.Text)
	}
	return json.Marshal(tc.Blocks)
}

// Flatten concatenates the text parts of the tool result.
func (tc *ToolResultContent) Flatten() string {
	if tc == nil {
		return ""
	}
	if tc.IsText {
		return tc.Text
	}
	var b strings.Builder
	for _, blk := range tc.Blocks {
		if blk.Type == BlockTypeText {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// SystemPrompt is either a plain string or a list of text blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
	Set    bool
}

func (sp *SystemPrompt) UnmarshalJSON(data []byte) error {
	sp.Set = true
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		sp.Text = s
		sp.IsText = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or a block list: %w", err)
	}
	sp.Blocks = blocks
	return nil
}

func (sp SystemPrompt) MarshalJSON() ([]byte, error) {
	if sp.IsText {
		return json.Marshal(sp.Text)
	}
	return json.Marshal(sp.Blocks)
}

// Render collapses the system prompt to a single string, joining text
// blocks with newlines in their original order.
func (sp SystemPrompt) Render() string {
	if sp.IsText {
		return sp.Text
	}
	var parts []string
	for _, blk := range sp.Blocks {
		if blk.Type == BlockTypeText && blk.Text != "" {
			parts = append(parts, blk.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Tool is an Anthropic tool declaration.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice selects how the model may use tools.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ThinkingParam enables extended thinking with a token budget.
type ThinkingParam struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// AnthropicResponse is the non-streaming Messages API response object.
type AnthropicResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []ResponseBlock `json:"content"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        Usage           `json:"usage"`
}

// ResponseBlock is a content block in an assistant response.
type ResponseBlock struct {
	Type     string                 `json:"type"`
	Text     string                 `json:"text,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Thinking string                 `json:"thinking,omitempty"`
}

// Usage carries token accounting in Anthropic shape.
type Usage struct {
	InputTokens    int `json:"input_tokens"`
	OutputTokens   int `json:"output_tokens"`
	ThinkingTokens int `json:"thinking_tokens,omitempty"`
}

// CountTokensResponse is the body for the count_tokens endpoint.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
