// Package upstream talks to OpenAI-compatible chat completion endpoints.
// It owns HTTP framing, SSE chunk decoding, bounded retries, and the
// mapping of transport failures onto the client-facing error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/router"
)

const completionsPath = "/chat/completions"

// Client invokes upstream endpoints. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	maxRetries  uint64
	idleTimeout time.Duration
	log         *logrus.Entry
}

// Options configures a Client.
type Options struct {
	RequestTimeout time.Duration // overall budget for non-streaming calls
	IdleTimeout    time.Duration // per-chunk idle budget for streams
	MaxRetries     int           // bounded retries before the first byte
}

// New builds a Client.
func New(opts Options, log *logrus.Entry) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: opts.RequestTimeout},
		maxRetries:  uint64(opts.MaxRetries),
		idleTimeout: opts.IdleTimeout,
		log:         log,
	}
}

// Do sends a non-streaming completion request. Transient failures retry
// with exponential backoff up to the configured bound.
func (c *Client) Do(ctx context.Context, req *protocol.OpenAIRequest, route *router.Resolved) (*protocol.OpenAIResponse, *protocol.Error) {
	body, err := req.MarshalBody()
	if err != nil {
		return nil, protocol.NewError(protocol.ErrAPI, "failed to encode upstream request: %v", err)
	}

	var out *protocol.OpenAIResponse
	op := func() error {
		resp, opErr := c.post(ctx, route, body)
		if opErr != nil {
			return opErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusError(resp)
		}

		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return backoff.Permanent(protocol.NewError(protocol.ErrAPI, "failed to read upstream response: %v", readErr))
		}
		var parsed protocol.OpenAIResponse
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
			return backoff.Permanent(protocol.NewError(protocol.ErrAPI, "malformed upstream response: %v", jsonErr))
		}
		out = &parsed
		return nil
	}

	if err := c.retry(ctx, op); err != nil {
		return nil, coerce(ctx, err)
	}
	return out, nil
}

// Stream opens a streaming completion call. Retries apply to the initial
// request only; once the stream is handed to the caller, failures are
// terminal.
func (c *Client) Stream(ctx context.Context, req *protocol.OpenAIRequest, route *router.Resolved) (*SSEStream, *protocol.Error) {
	body, err := req.MarshalBody()
	if err != nil {
		return nil, protocol.NewError(protocol.ErrAPI, "failed to encode upstream request: %v", err)
	}

	var stream *SSEStream
	op := func() error {
		streamCtx, cancel := context.WithCancel(ctx)
		resp, opErr := c.postWith(streamCtx, c.streamHTTPClient(), route, body)
		if opErr != nil {
			cancel()
			return opErr
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError(resp)
			resp.Body.Close()
			cancel()
			return err
		}
		stream = newSSEStream(resp.Body, cancel, c.idleTimeout, c.log)
		return nil
	}

	if err := c.retry(ctx, op); err != nil {
		return nil, coerce(ctx, err)
	}
	return stream, nil
}

// streamHTTPClient is the transport without an overall timeout: a stream
// lives as long as the request context allows.
func (c *Client) streamHTTPClient() *http.Client {
	return &http.Client{Transport: c.httpClient.Transport}
}

func (c *Client) post(ctx context.Context, route *router.Resolved, body []byte) (*http.Response, error) {
	return c.postWith(ctx, c.httpClient, route, body)
}

func (c *Client) postWith(ctx context.Context, hc *http.Client, route *router.Resolved, body []byte) (*http.Response, error) {
	url := strings.TrimRight(route.BaseURL, "/") + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(protocol.NewError(protocol.ErrAPI, "failed to build upstream request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if route.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+route.APIKey)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxTaggedError(ctxErr))
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, backoff.Permanent(protocol.NewError(protocol.ErrTimeout, "upstream request exceeded the overall budget"))
		}
		// Connection-level failures are the canonical transient case.
		return nil, protocol.NewError(protocol.ErrOverloaded, "upstream connection failed: %v", err)
	}
	return resp, nil
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("wait", wait).Warn("retrying upstream request")
	})
}

// statusError maps a non-200 upstream status onto the taxonomy. 502/503/504
// are transient and retried; everything else is permanent.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := gjson.GetBytes(raw, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	kind := protocol.KindFromStatus(resp.StatusCode)
	perr := protocol.NewError(kind, "upstream returned %d: %s", resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		perr.Kind = protocol.ErrOverloaded
		return perr
	}
	return backoff.Permanent(perr)
}

func ctxTaggedError(ctxErr error) *protocol.Error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return protocol.NewError(protocol.ErrTimeout, "upstream request exceeded the overall budget")
	}
	return protocol.NewError(protocol.ErrAPI, "request cancelled")
}

func coerce(ctx context.Context, err error) *protocol.Error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return protocol.NewError(protocol.ErrTimeout, "upstream request exceeded the overall budget")
	}
	return protocol.AsError(err)
}
