package protocol

import (
	"encoding/json"

	"github.com/tidwall/sjson"
)

// OpenAI finish reasons
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// OpenAIRequest is the provider-neutral chat completion request sent
// upstream. ExtraBody keys are merged into the top level of the serialized
// body so provider-scoped parameters (reasoning, thinking,
// generation_config) ride along without becoming first-class fields.
type OpenAIRequest struct {
	Model               string                 `json:"model"`
	Messages            []OpenAIMessage        `json:"messages"`
	Tools               []OpenAITool           `json:"tools,omitempty"`
	ToolChoice          interface{}            `json:"tool_choice,omitempty"`
	MaxTokens           int                    `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                    `json:"max_completion_tokens,omitempty"`
	Temperature         *float64               `json:"temperature,omitempty"`
	TopP                *float64               `json:"top_p,omitempty"`
	Stop                []string               `json:"stop,omitempty"`
	Stream              bool                   `json:"stream,omitempty"`
	StreamOptions       *StreamOptions         `json:"stream_options,omitempty"`
	ExtraBody           map[string]interface{} `json:"-"`
}

// StreamOptions asks the upstream for usage on the final chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// MarshalBody serializes the request and merges ExtraBody keys at the top
// level of the JSON object.
func (r *OpenAIRequest) MarshalBody() ([]byte, error) {
	type alias OpenAIRequest
	body, err := json.Marshal((*alias)(r))
	if err != nil {
		return nil, err
	}
	for k, v := range r.ExtraBody {
		body, err = sjson.SetBytes(body, k, v)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// SetExtra records a provider-scoped body field.
func (r *OpenAIRequest) SetExtra(key string, value interface{}) {
	if r.ExtraBody == nil {
		r.ExtraBody = make(map[string]interface{})
	}
	r.ExtraBody[key] = value
}

// OpenAIMessage is one entry of the flattened upstream message list.
// Content is a string for simple messages or []ContentPart for multimodal
// user turns.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// ContentPart is a single part of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data or remote URL.
type ImageURL struct {
	URL string `json:"url"`
}

// OpenAIToolCall is an assistant-side function invocation.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool is a function tool declaration in OpenAI shape.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the function payload of a tool declaration.
type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIResponse is a non-streaming chat completion response.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// OpenAIChoice is one completion choice.
type OpenAIChoice struct {
	Index        int                   `json:"index"`
	Message      OpenAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// OpenAIResponseMessage is the assistant message of a choice.
type OpenAIResponseMessage struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	Refusal          string           `json:"refusal,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIUsage is token accounting in OpenAI shape.
type OpenAIUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// CompletionTokensDetails exposes reasoning token counts where provided.
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// Chunk is a streaming chat completion chunk.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *OpenAIUsage  `json:"usage,omitempty"`
}

// ChunkChoice is one choice of a chunk. Only choices[0] is consumed.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta is the incremental payload of a chunk choice. Raw keeps the
// original bytes so reasoning-style fields that vary by provider
// (reasoning, thinking, reasoning_content) can be probed without schema
// churn.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Refusal   string          `json:"refusal,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	type alias Delta
	if err := json.Unmarshal(data, (*alias)(d)); err != nil {
		return err
	}
	d.Raw = append(d.Raw[:0], data...)
	return nil
}

// ToolCallDelta is an incremental tool call fragment. Index identifies the
// upstream tool call slot; ID and Name arrive on the first fragment for
// well-behaved upstreams.
type ToolCallDelta struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function FunctionCallDelta `json:"function"`
}

// FunctionCallDelta carries a name and/or an arguments fragment.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
