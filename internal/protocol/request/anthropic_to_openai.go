// Package request converts Anthropic Messages API requests into the
// provider-neutral OpenAI chat completion shape.
package request

import (
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

// Convert rewrites an Anthropic request into an OpenAI chat completion
// request aimed at targetModel. The reasoning config, when present, is
// attached through ExtraBody rather than a typed request field; MarshalBody
// merges it into the serialized body. Validation failures short-circuit
// before any upstream call.
func Convert(
	req *protocol.AnthropicRequest,
	targetModel string,
	cfg *reasoning.Config,
	dialects map[string]router.ToolDialect,
	log *logrus.Entry,
) (*protocol.OpenAIRequest, *protocol.Error) {
	if req.MaxTokens < 1 {
		return nil, protocol.NewError(protocol.ErrInvalidRequest, "max_tokens is required and must be >= 1")
	}

	out := &protocol.OpenAIRequest{
		Model:       targetModel,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.TopK != nil {
		log.Debug("top_k has no OpenAI equivalent, dropping")
	}
	if req.Stream {
		out.StreamOptions = &protocol.StreamOptions{IncludeUsage: true}
	}

	// Reasoning-family targets take max_completion_tokens instead of
	// max_tokens.
	if reasoning.DetectFamily(targetModel) == reasoning.FamilyOpenAI {
		out.MaxCompletionTokens = req.MaxTokens
	} else {
		out.MaxTokens = req.MaxTokens
	}

	if sys := req.System.Render(); sys != "" {
		out.Messages = append(out.Messages, protocol.OpenAIMessage{Role: "system", Content: sys})
	}

	if err := convertMessages(req, out, dialects); err != nil {
		return nil, err
	}

	if err := convertTools(req, out); err != nil {
		return nil, err
	}

	placeReasoning(out, cfg)
	return out, nil
}

// convertMessages flattens the Anthropic message list. tool_result blocks
// split out into role="tool" messages in their original position relative
// to surrounding blocks.
func convertMessages(req *protocol.AnthropicRequest, out *protocol.OpenAIRequest, dialects map[string]router.ToolDialect) *protocol.Error {
	seenToolUse := make(map[string]bool)

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			msgs, err := convertUserMessage(msg, seenToolUse)
			if err != nil {
				return err
			}
			out.Messages = append(out.Messages, msgs...)
		case "assistant":
			m := convertAssistantMessage(msg, dialects)
			for _, tc := range m.ToolCalls {
				seenToolUse[tc.ID] = true
			}
			out.Messages = append(out.Messages, m)
		default:
			return protocol.NewError(protocol.ErrInvalidRequest, "unknown message role %q", msg.Role)
		}
	}
	return nil
}

func convertUserMessage(msg protocol.Message, seenToolUse map[string]bool) ([]protocol.OpenAIMessage, *protocol.Error) {
	if msg.Content.IsText {
		return []protocol.OpenAIMessage{{Role: "user", Content: msg.Content.Text}}, nil
	}

	var result []protocol.OpenAIMessage
	var parts []protocol.ContentPart

	flushParts := func() {
		if len(parts) == 0 {
			return
		}
		if len(parts) == 1 && parts[0].Type == "text" {
			result = append(result, protocol.OpenAIMessage{Role: "user", Content: parts[0].Text})
		} else {
			result = append(result, protocol.OpenAIMessage{Role: "user", Content: parts})
		}
		parts = nil
	}

	for _, blk := range msg.Content.Blocks {
		switch blk.Type {
		case protocol.BlockTypeText:
			parts = append(parts, protocol.ContentPart{Type: "text", Text: blk.Text})
		case protocol.BlockTypeImage:
			if blk.Source != nil {
				parts = append(parts, protocol.ContentPart{
					Type:     "image_url",
					ImageURL: &protocol.ImageURL{URL: blk.Source.DataURL()},
				})
			}
		case protocol.BlockTypeToolResult:
			if !seenToolUse[blk.ToolUseID] {
				return nil, protocol.NewError(protocol.ErrInvalidRequest,
					"tool_result references unknown tool_use_id %q", blk.ToolUseID)
			}
			flushParts()
			content := blk.Content.Flatten()
			if blk.IsError {
				content = "[error] " + content
			}
			result = append(result, protocol.OpenAIMessage{
				Role:       "tool",
				ToolCallID: blk.ToolUseID,
				Content:    content,
			})
		}
	}
	flushParts()
	return result, nil
}

func convertAssistantMessage(msg protocol.Message, dialects map[string]router.ToolDialect) protocol.OpenAIMessage {
	out := protocol.OpenAIMessage{Role: "assistant"}

	var text string
	for _, blk := range msg.Content.AsBlocks() {
		switch blk.Type {
		case protocol.BlockTypeText:
			text += blk.Text
		case protocol.BlockTypeToolUse:
			args := string(blk.Input)
			if args == "" {
				args = "{}"
			}
			if d, ok := dialects[blk.Name]; ok {
				args = restoreUpstreamKey(args, d)
			}
			out.ToolCalls = append(out.ToolCalls, protocol.OpenAIToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: protocol.OpenAIFunctionCall{
					Name:      blk.Name,
					Arguments: args,
				},
			})
		case protocol.BlockTypeThinking:
			// Thinking is response-only; dropped on replay.
		}
	}
	out.Content = text
	return out
}

// restoreUpstreamKey undoes the response-side argument-key rewrite when an
// assistant tool call is replayed upstream, so the upstream recognizes its
// own prior call.
func restoreUpstreamKey(args string, d router.ToolDialect) string {
	v := gjson.Get(args, d.ClientKey)
	if !v.Exists() {
		return args
	}
	args, _ = sjson.Delete(args, d.ClientKey)
	args, _ = sjson.SetRaw(args, d.UpstreamKey, v.Raw)
	return args
}

func convertTools(req *protocol.AnthropicRequest, out *protocol.OpenAIRequest) *protocol.Error {
	requiresSchema := func(name string) bool {
		if req.ToolChoice == nil {
			return false
		}
		switch req.ToolChoice.Type {
		case "any":
			return true
		case "tool":
			return req.ToolChoice.Name == name
		}
		return false
	}

	for _, tool := range req.Tools {
		if len(tool.InputSchema) == 0 && requiresSchema(tool.Name) {
			return protocol.NewError(protocol.ErrInvalidRequest,
				"tool %q has no input_schema but tool_choice requires it", tool.Name)
		}
		out.Tools = append(out.Tools, protocol.OpenAITool{
			Type: "function",
			Function: protocol.OpenAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto":
			out.ToolChoice = "auto"
		case "any":
			out.ToolChoice = "required"
		case "none":
			out.ToolChoice = "none"
		case "tool":
			out.ToolChoice = map[string]interface{}{
				"type":     "function",
				"function": map[string]interface{}{"name": req.ToolChoice.Name},
			}
		}
	}
	return nil
}

// placeReasoning attaches the resolved reasoning config under extra_body in
// the shape the target family expects.
func placeReasoning(out *protocol.OpenAIRequest, cfg *reasoning.Config) {
	if cfg == nil {
		return
	}
	switch cfg.Kind {
	case reasoning.KindOpenAIEffort:
		out.SetExtra("reasoning", map[string]interface{}{"effort": cfg.Effort})
		if cfg.Verbosity != "" {
			out.SetExtra("verbosity", cfg.Verbosity)
		}
	case reasoning.KindAnthropicThinking:
		out.SetExtra("thinking", map[string]interface{}{
			"type":          "enabled",
			"budget_tokens": cfg.Budget,
		})
	case reasoning.KindGeminiThinking:
		out.SetExtra("generation_config", map[string]interface{}{
			"thinking_config": map[string]interface{}{"thinking_budget": cfg.Budget},
		})
	}
}
