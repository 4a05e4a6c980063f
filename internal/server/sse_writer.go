package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// sseWriter adapts a gin context to the stream converter's EventWriter.
// One writer per response; the converter is the only caller.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported by this connection")
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	return &sseWriter{c: c, flusher: flusher}, nil
}

// Send writes one SSE event and flushes. The client context is checked
// first so cancellation is observed before every write.
func (w *sseWriter) Send(event string, data []byte) error {
	if err := w.c.Request.Context().Err(); err != nil {
		return err
	}
	w.c.SSEvent(event, string(data))
	w.flusher.Flush()
	return nil
}
