// Package nonstream converts complete OpenAI chat completion responses
// into Anthropic Messages API response objects.
package nonstream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

// Convert builds the Anthropic response envelope from an upstream
// completion. model is the originally requested model name, not the routed
// target. A malformed tool arguments payload still yields a well-formed
// envelope: the raw text is wrapped under "_raw" and stop_reason becomes
// "error".
func Convert(
	resp *protocol.OpenAIResponse,
	model string,
	cfg *reasoning.Config,
	dialects map[string]router.ToolDialect,
) *protocol.AnthropicResponse {
	out := &protocol.AnthropicResponse{
		ID:         fmt.Sprintf("msg_%s", uuid.NewString()),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: protocol.StopReasonEndTurn,
	}

	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.PromptTokens
		out.Usage.OutputTokens = resp.Usage.CompletionTokens
		if d := resp.Usage.CompletionTokensDetails; d != nil && d.ReasoningTokens > 0 {
			if cfg == nil || !cfg.Exclude {
				out.Usage.ThinkingTokens = d.ReasoningTokens
			}
		}
	}

	if len(resp.Choices) == 0 {
		out.Content = []protocol.ResponseBlock{}
		return out
	}
	choice := resp.Choices[0]
	msg := choice.Message

	if msg.ReasoningContent != "" && (cfg == nil || !cfg.Exclude) {
		out.Content = append(out.Content, protocol.ResponseBlock{
			Type:     protocol.BlockTypeThinking,
			Thinking: msg.ReasoningContent,
		})
	}

	if msg.Refusal != "" {
		out.Content = append(out.Content, protocol.ResponseBlock{
			Type: protocol.BlockTypeText,
			Text: msg.Refusal,
		})
	}

	if msg.Content != "" {
		out.Content = append(out.Content, protocol.ResponseBlock{
			Type: protocol.BlockTypeText,
			Text: msg.Content,
		})
	}

	argsBroken := false
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if d, ok := dialects[tc.Function.Name]; ok {
			args = renameToClientKey(args, d)
		}
		input, ok := parseArguments(args)
		if !ok {
			argsBroken = true
		}
		out.Content = append(out.Content, protocol.ResponseBlock{
			Type:  protocol.BlockTypeToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	out.StopReason = MapFinishReason(choice.FinishReason)
	if argsBroken {
		out.StopReason = protocol.StopReasonError
	}
	if out.Content == nil {
		out.Content = []protocol.ResponseBlock{}
	}
	return out
}

// renameToClientKey rewrites the upstream-dialect argument key back to the
// canonical client key.
func renameToClientKey(args string, d router.ToolDialect) string {
	v := gjson.Get(args, d.UpstreamKey)
	if !v.Exists() {
		return args
	}
	args, _ = sjson.Delete(args, d.UpstreamKey)
	args, _ = sjson.SetRaw(args, d.ClientKey, v.Raw)
	return args
}

func parseArguments(args string) (map[string]interface{}, bool) {
	if args == "" {
		return map[string]interface{}{}, true
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return map[string]interface{}{"_raw": args}, false
	}
	return input, true
}

// MapFinishReason converts an OpenAI finish_reason to an Anthropic
// stop_reason.
func MapFinishReason(finishReason string) string {
	switch finishReason {
	case protocol.FinishReasonStop:
		return protocol.StopReasonEndTurn
	case protocol.FinishReasonLength:
		return protocol.StopReasonMaxTokens
	case protocol.FinishReasonToolCalls:
		return protocol.StopReasonToolUse
	case protocol.FinishReasonContentFilter:
		return protocol.StopReasonStopSequence
	default:
		return protocol.StopReasonEndTurn
	}
}
