// Package stream converts OpenAI chat completion chunk streams into the
// Anthropic multi-event SSE format. The conversion is a single-writer state
// machine: one goroutine owns a Converter, feeds it upstream chunks, and is
// the only emitter of client events.
package stream

import (
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

// toolBlock is an open tool_use content block being assembled from
// argument fragments.
type toolBlock struct {
	index    int
	id       string
	name     string
	rewriter *KeyRewriter
}

// pendingTool buffers argument fragments for a tool call slot whose id has
// not arrived yet. No block is opened until it does.
type pendingTool struct {
	name string
	args string
}

// Converter is the streaming state machine. It owns all per-response
// state; the caller drives it from exactly one goroutine.
type Converter struct {
	w        EventWriter
	log      *logrus.Entry
	msgID    string
	model    string
	exclude  bool
	dialects map[string]router.ToolDialect

	started  bool
	finished bool

	nextBlockIndex int
	textIndex      int
	thinkingIndex  int
	toolBlocks     map[int]*toolBlock  // upstream tool slot -> open block
	pendingTools   map[int]*pendingTool
	openOrder      []int

	inputTokens    int
	outputTokens   int
	usageSeen      bool
	observedDeltas int
}

// NewConverter builds a converter for one response. model is the
// originally requested model echoed back to the client.
func NewConverter(w EventWriter, msgID, model string, cfg *reasoning.Config, dialects map[string]router.ToolDialect, log *logrus.Entry) *Converter {
	return &Converter{
		w:             w,
		log:           log,
		msgID:         msgID,
		model:         model,
		exclude:       cfg != nil && cfg.Exclude,
		dialects:      dialects,
		textIndex:     -1,
		thinkingIndex: -1,
		toolBlocks:    make(map[int]*toolBlock),
		pendingTools:  make(map[int]*pendingTool),
	}
}

// Started reports whether message_start has been emitted.
func (cv *Converter) Started() bool { return cv.started }

// Finished reports whether the terminal sequence has been emitted.
func (cv *Converter) Finished() bool { return cv.finished }

// Feed processes one upstream chunk. Returns a write error when the client
// connection is gone; the caller stops the stream then.
func (cv *Converter) Feed(chunk *protocol.Chunk) error {
	if cv.finished {
		return nil
	}

	if chunk.Usage != nil {
		// Some upstreams stream cumulative usage, others emit it once on
		// the final chunk; the last seen values win either way.
		cv.inputTokens = chunk.Usage.PromptTokens
		cv.outputTokens = chunk.Usage.CompletionTokens
		cv.usageSeen = true
	}

	if err := cv.ensureStarted(); err != nil {
		return err
	}

	if len(chunk.Choices) == 0 {
		return nil
	}
	if len(chunk.Choices) > 1 {
		cv.log.WithField("choices", len(chunk.Choices)).
			Warn("upstream chunk carries multiple choices, processing only the first")
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if err := cv.handleThinking(delta); err != nil {
		return err
	}

	if delta.Refusal != "" {
		if err := cv.emitText(delta.Refusal); err != nil {
			return err
		}
	}

	if delta.Content != "" {
		if err := cv.emitText(delta.Content); err != nil {
			return err
		}
	}

	if len(delta.ToolCalls) > 0 {
		if err := cv.handleToolCalls(delta.ToolCalls); err != nil {
			return err
		}
	}

	if choice.FinishReason != "" {
		return cv.terminate(mapFinishReason(choice.FinishReason))
	}
	return nil
}

// FinishEOF handles the upstream [DONE] sentinel arriving without a
// finish_reason chunk: same terminal sequence as finish_reason="stop".
func (cv *Converter) FinishEOF() error {
	if cv.finished {
		return nil
	}
	if err := cv.ensureStarted(); err != nil {
		return err
	}
	return cv.terminate(protocol.StopReasonEndTurn)
}

// Cancel executes the best-effort terminal closure after a client
// disconnect: close open blocks, emit message_delta with end_turn and the
// observed output tokens, then message_stop. Write errors are swallowed;
// the client is likely already gone.
func (cv *Converter) Cancel() {
	if cv.finished || !cv.started {
		cv.finished = true
		return
	}
	_ = cv.terminate(protocol.StopReasonEndTurn)
}

// Fail ends the stream after an upstream error. Before message_start a
// single error event is emitted; after it, open blocks close and the
// message terminates with stop_reason "error" so the client never sees a
// half-closed stream.
func (cv *Converter) Fail(perr *protocol.Error) {
	if cv.finished {
		return
	}
	cv.log.WithField("kind", perr.Kind).WithError(perr).Error("stream failed")
	if !cv.started {
		cv.finished = true
		_ = sendEvent(cv.w, cv.log, eventTypeError, errorEvent(string(perr.Kind), perr.Message))
		return
	}
	_ = cv.terminate(protocol.StopReasonError)
}

func (cv *Converter) ensureStarted() error {
	if cv.started {
		return nil
	}
	cv.started = true
	return sendEvent(cv.w, cv.log, eventTypeMessageStart,
		messageStartEvent(cv.msgID, cv.model, cv.inputTokens))
}

// handleThinking probes the raw delta for provider-specific reasoning
// fields and streams them as a thinking block. Suppressed entirely when
// the reasoning config excludes thinking output.
func (cv *Converter) handleThinking(delta protocol.Delta) error {
	if len(delta.Raw) == 0 {
		return nil
	}
	var text string
	for _, field := range reasoningDeltaFields {
		if v := gjson.GetBytes(delta.Raw, field); v.Type == gjson.String && v.Str != "" {
			text = v.Str
			break
		}
	}
	if text == "" {
		return nil
	}
	cv.observedDeltas++
	if cv.exclude {
		return nil
	}

	if cv.thinkingIndex == -1 {
		cv.thinkingIndex = cv.openBlock()
		if err := sendEvent(cv.w, cv.log, eventTypeContentBlockStart,
			contentBlockStartEvent(cv.thinkingIndex, blockTypeThinking, map[string]interface{}{"thinking": ""})); err != nil {
			return err
		}
	}
	return sendEvent(cv.w, cv.log, eventTypeContentBlockDelta,
		contentBlockDeltaEvent(cv.thinkingIndex, map[string]interface{}{
			"type":     deltaTypeThinkingDelta,
			"thinking": text,
		}))
}

func (cv *Converter) emitText(text string) error {
	if cv.textIndex == -1 {
		cv.textIndex = cv.openBlock()
		if err := sendEvent(cv.w, cv.log, eventTypeContentBlockStart,
			contentBlockStartEvent(cv.textIndex, blockTypeText, map[string]interface{}{"text": ""})); err != nil {
			return err
		}
	}
	cv.observedDeltas++
	return sendEvent(cv.w, cv.log, eventTypeContentBlockDelta,
		contentBlockDeltaEvent(cv.textIndex, map[string]interface{}{
			"type": deltaTypeTextDelta,
			"text": text,
		}))
}

func (cv *Converter) handleToolCalls(calls []protocol.ToolCallDelta) error {
	for _, tc := range calls {
		slot := tc.Index

		blk, open := cv.toolBlocks[slot]
		if !open {
			if tc.ID == "" {
				// The id has not arrived yet; buffer fragments until it
				// does. If the stream ends first the slot is dropped.
				p := cv.pendingTools[slot]
				if p == nil {
					p = &pendingTool{}
					cv.pendingTools[slot] = p
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args += tc.Function.Arguments
				continue
			}

			name := tc.Function.Name
			buffered := ""
			if p := cv.pendingTools[slot]; p != nil {
				if name == "" {
					name = p.name
				}
				buffered = p.args
				delete(cv.pendingTools, slot)
			}

			blk = &toolBlock{
				index: cv.openBlock(),
				id:    tc.ID,
				name:  name,
			}
			if d, ok := cv.dialects[name]; ok {
				blk.rewriter = NewKeyRewriter(d.UpstreamKey, d.ClientKey)
			}
			cv.toolBlocks[slot] = blk

			if err := sendEvent(cv.w, cv.log, eventTypeContentBlockStart,
				contentBlockStartEvent(blk.index, blockTypeToolUse, map[string]interface{}{
					"id":    blk.id,
					"name":  blk.name,
					"input": map[string]interface{}{},
				})); err != nil {
				return err
			}

			if buffered != "" {
				if err := cv.emitToolArgs(blk, buffered); err != nil {
					return err
				}
			} else if tc.Function.Arguments == "" {
				// Prime the block so clients see a delta for the opening
				// fragment even when its arguments are empty.
				if err := cv.emitToolArgs(blk, ""); err != nil {
					return err
				}
			}
		}

		if tc.Function.Arguments != "" {
			if err := cv.emitToolArgs(blk, tc.Function.Arguments); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cv *Converter) emitToolArgs(blk *toolBlock, fragment string) error {
	cv.observedDeltas++
	if blk.rewriter != nil {
		fragment = blk.rewriter.Rewrite(fragment)
		if fragment == "" {
			return nil
		}
	}
	return sendEvent(cv.w, cv.log, eventTypeContentBlockDelta,
		contentBlockDeltaEvent(blk.index, map[string]interface{}{
			"type":         deltaTypeInputJSONDelta,
			"partial_json": fragment,
		}))
}

// openBlock allocates the next stable block index in first-observation
// order.
func (cv *Converter) openBlock() int {
	idx := cv.nextBlockIndex
	cv.nextBlockIndex++
	cv.openOrder = append(cv.openOrder, idx)
	return idx
}

// terminate closes every open block in the order it was opened, then emits
// message_delta and message_stop. Only the first call wins; later
// finish_reason chunks are dropped.
func (cv *Converter) terminate(stopReason string) error {
	if cv.finished {
		return nil
	}
	cv.finished = true

	for slot, p := range cv.pendingTools {
		cv.log.WithFields(logrus.Fields{"slot": slot, "name": p.name}).
			Warn("tool call fragments never received an id, dropping")
		delete(cv.pendingTools, slot)
	}

	for _, idx := range cv.openOrder {
		if blk := cv.toolBlockAt(idx); blk != nil && blk.rewriter != nil {
			// No JSON validation here: the raw partial stream is passed
			// through and the client assembles it.
			if tail := blk.rewriter.Flush(); tail != "" {
				if err := sendEvent(cv.w, cv.log, eventTypeContentBlockDelta,
					contentBlockDeltaEvent(idx, map[string]interface{}{
						"type":         deltaTypeInputJSONDelta,
						"partial_json": tail,
					})); err != nil {
					return err
				}
			}
		}
		if err := sendEvent(cv.w, cv.log, eventTypeContentBlockStop, contentBlockStopEvent(idx)); err != nil {
			return err
		}
	}

	if err := sendEvent(cv.w, cv.log, eventTypeMessageDelta,
		messageDeltaEvent(stopReason, cv.OutputTokens())); err != nil {
		return err
	}
	return sendEvent(cv.w, cv.log, eventTypeMessageStop, messageStopEvent())
}

func (cv *Converter) toolBlockAt(index int) *toolBlock {
	for _, blk := range cv.toolBlocks {
		if blk.index == index {
			return blk
		}
	}
	return nil
}

// OutputTokens is the best output token count available: upstream usage
// when reported, otherwise the number of observed deltas.
func (cv *Converter) OutputTokens() int {
	if cv.usageSeen {
		return cv.outputTokens
	}
	return cv.observedDeltas
}

// Usage returns the final usage stat for tracking.
func (cv *Converter) Usage() protocol.UsageStat {
	return protocol.NewUsageStat(cv.inputTokens, cv.OutputTokens())
}

func mapFinishReason(finishReason string) string {
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
