package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/plexo-dev/plexo/internal/protocol"
)

const doneSentinel = "[DONE]"

// SSEStream iterates upstream chat completion chunks. The idle timer
// resets on every decoded chunk; firing cancels the underlying request and
// surfaces a timeout_error. Not safe for concurrent use: exactly one
// goroutine drives Next/Current.
type SSEStream struct {
	body       io.ReadCloser
	reader     *bufio.Reader
	cancel     context.CancelFunc
	idleTimer  *time.Timer
	idleBudget time.Duration
	timedOut   atomic.Bool
	log        *logrus.Entry

	cur       protocol.Chunk
	err       *protocol.Error
	done      bool
	sawDone   bool
	cancelled bool
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration, log *logrus.Entry) *SSEStream {
	s := &SSEStream{
		body:       body,
		reader:     bufio.NewReader(body),
		cancel:     cancel,
		idleBudget: idle,
		log:        log,
	}
	if idle > 0 {
		s.idleTimer = time.AfterFunc(idle, func() {
			s.timedOut.Store(true)
			cancel()
		})
	}
	return s
}

// Next advances to the next chunk. Returns false at the [DONE] sentinel,
// on EOF, on error, or after cancellation; Err, Cancelled and SawDone
// distinguish the cases.
func (s *SSEStream) Next() bool {
	if s.done {
		return false
	}
	for {
		line, readErr := s.reader.ReadString('\n')
		if readErr != nil {
			s.done = true
			s.classifyReadError(readErr)
			return false
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			s.done = true
			s.sawDone = true
			return false
		}

		var chunk protocol.Chunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.log.WithError(err).Warn("skipping undecodable upstream chunk")
			continue
		}

		if s.idleTimer != nil {
			s.idleTimer.Reset(s.idleBudget)
		}
		s.cur = chunk
		return true
	}
}

func (s *SSEStream) classifyReadError(readErr error) {
	switch {
	case s.timedOut.Load():
		s.err = protocol.NewError(protocol.ErrTimeout, "upstream stream idle deadline exceeded")
	case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
		// Stream closed without [DONE]; the converter treats it like one.
	case errors.Is(readErr, context.Canceled):
		s.cancelled = true
	default:
		if strings.Contains(readErr.Error(), "context canceled") {
			s.cancelled = true
			return
		}
		s.err = protocol.NewError(protocol.ErrAPI, "upstream stream read failed: %v", readErr)
	}
}

// Current returns the chunk decoded by the last successful Next.
func (s *SSEStream) Current() *protocol.Chunk {
	return &s.cur
}

// Err reports the terminal failure, nil on clean EOF or cancellation.
func (s *SSEStream) Err() *protocol.Error {
	return s.err
}

// Cancelled reports whether the stream ended because the request context
// was cancelled.
func (s *SSEStream) Cancelled() bool {
	return s.cancelled
}

// SawDone reports whether the upstream sent its [DONE] sentinel.
func (s *SSEStream) SawDone() bool {
	return s.sawDone
}

// Close releases the upstream connection. Safe to call more than once.
func (s *SSEStream) Close() error {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.cancel()
	return s.body.Close()
}
