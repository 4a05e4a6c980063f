// Package token estimates token counts for Anthropic message lists using
// tiktoken. The estimate is advisory; upstream usage numbers are always
// authoritative.
package token

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/plexo-dev/plexo/internal/protocol"
)

// perMessageOverhead approximates the framing tokens each message costs.
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     tokenizer.Codec
	encErr  error
)

func codec() (tokenizer.Codec, error) {
	encOnce.Do(func() {
		enc, encErr = tokenizer.Get(tokenizer.O200kBase)
	})
	if encErr != nil {
		return nil, fmt.Errorf("failed to get tokenizer: %w", encErr)
	}
	return enc, nil
}

// countOrEstimate counts tokens, falling back to a chars/4 estimate when
// the tokenizer rejects the input.
func countOrEstimate(c tokenizer.Codec, text string) int {
	if text == "" {
		return 0
	}
	n, err := c.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Estimate counts the input tokens of an Anthropic request: system prompt,
// every message's text-bearing blocks, and the serialized tool schemas.
func Estimate(req *protocol.AnthropicRequest) (int, error) {
	c, err := codec()
	if err != nil {
		return 0, err
	}

	total := 0
	if sys := req.System.Render(); sys != "" {
		total += countOrEstimate(c, sys)
	}

	for _, msg := range req.Messages {
		total += perMessageOverhead
		total += countOrEstimate(c, msg.Role)
		for _, blk := range msg.Content.AsBlocks() {
			switch blk.Type {
			case protocol.BlockTypeText:
				total += countOrEstimate(c, blk.Text)
			case protocol.BlockTypeThinking:
				total += countOrEstimate(c, blk.Thinking)
			case protocol.BlockTypeToolUse:
				total += countOrEstimate(c, blk.Name)
				total += countOrEstimate(c, string(blk.Input))
			case protocol.BlockTypeToolResult:
				total += countOrEstimate(c, blk.Content.Flatten())
			}
		}
	}

	for _, tool := range req.Tools {
		toolJSON, err := json.Marshal(tool)
		if err != nil {
			total += countOrEstimate(c, tool.Name)
			total += countOrEstimate(c, tool.Description)
			continue
		}
		total += countOrEstimate(c, string(toolJSON))
	}

	return total, nil
}
