package stream

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// EventWriter is where the converter emits Anthropic SSE events. The
// transport supplies an implementation that frames event/data lines and
// flushes; tests supply a recorder.
type EventWriter interface {
	Send(event string, data []byte) error
}

// sendEvent marshals the payload and writes one SSE event.
func sendEvent(w EventWriter, log *logrus.Entry, eventType string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("failed to marshal stream event")
		return err
	}
	return w.Send(eventType, data)
}

func messageStartEvent(messageID, model string, inputTokens int) map[string]interface{} {
	return map[string]interface{}{
		"type": eventTypeMessageStart,
		"message": map[string]interface{}{
			"id":            messageID,
			"type":          "message",
			"role":          "assistant",
			"content":       []interface{}{},
			"model":         model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  inputTokens,
				"output_tokens": 0,
			},
		},
	}
}

func contentBlockStartEvent(index int, blockType string, initial map[string]interface{}) map[string]interface{} {
	contentBlock := map[string]interface{}{"type": blockType}
	for k, v := range initial {
		contentBlock[k] = v
	}
	return map[string]interface{}{
		"type":          eventTypeContentBlockStart,
		"index":         index,
		"content_block": contentBlock,
	}
}

func contentBlockDeltaEvent(index int, delta map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":  eventTypeContentBlockDelta,
		"index": index,
		"delta": delta,
	}
}

func contentBlockStopEvent(index int) map[string]interface{} {
	return map[string]interface{}{
		"type":  eventTypeContentBlockStop,
		"index": index,
	}
}

func messageDeltaEvent(stopReason string, outputTokens int) map[string]interface{} {
	return map[string]interface{}{
		"type": eventTypeMessageDelta,
		"delta": map[string]interface{}{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]interface{}{
			"output_tokens": outputTokens,
		},
	}
}

func messageStopEvent() map[string]interface{} {
	return map[string]interface{}{"type": eventTypeMessageStop}
}

func errorEvent(errType, message string) map[string]interface{} {
	return map[string]interface{}{
		"type": eventTypeError,
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
}
