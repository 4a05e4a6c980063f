package stream

// Anthropic event types
const (
	eventTypeMessageStart      = "message_start"
	eventTypeContentBlockStart = "content_block_start"
	eventTypeContentBlockDelta = "content_block_delta"
	eventTypeContentBlockStop  = "content_block_stop"
	eventTypeMessageDelta      = "message_delta"
	eventTypeMessageStop       = "message_stop"
	eventTypeError             = "error"
)

// Anthropic block types
const (
	blockTypeText     = "text"
	blockTypeThinking = "thinking"
	blockTypeToolUse  = "tool_use"
)

// Anthropic delta types
const (
	deltaTypeTextDelta      = "text_delta"
	deltaTypeThinkingDelta  = "thinking_delta"
	deltaTypeInputJSONDelta = "input_json_delta"
)

// OpenAI delta fields that carry reasoning text, in probe order. Providers
// disagree on the name; all are treated as thinking deltas.
var reasoningDeltaFields = []string{"reasoning_content", "reasoning", "thinking"}
