package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plexo-dev/plexo/internal/obs"
	"github.com/plexo-dev/plexo/internal/protocol"
	"github.com/plexo-dev/plexo/internal/protocol/nonstream"
	"github.com/plexo-dev/plexo/internal/protocol/request"
	"github.com/plexo-dev/plexo/internal/protocol/stream"
	"github.com/plexo-dev/plexo/internal/protocol/token"
	"github.com/plexo-dev/plexo/internal/reasoning"
	"github.com/plexo-dev/plexo/internal/router"
)

// handleMessages serves POST /v1/messages: convert, forward, convert back.
func (s *Server) handleMessages(c *gin.Context) {
	var req protocol.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, protocol.NewError(protocol.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}
	if req.Model == "" {
		respondError(c, protocol.NewError(protocol.ErrInvalidRequest, "model is required"))
		return
	}

	log := obs.RequestLogger(c.GetString(requestIDKey), req.Model)

	base, sfx := reasoning.ParseSuffix(req.Model)
	route, perr := s.router.Resolve(base)
	if perr != nil {
		respondError(c, perr)
		return
	}
	log = log.WithFields(logrus.Fields{"target": route.TargetModel, "stream": req.Stream})

	// A thinking param in the request body acts like a budget suffix, but
	// an explicit suffix wins.
	if sfx.Kind == reasoning.SuffixNone && req.Thinking != nil &&
		req.Thinking.Type == "enabled" && req.Thinking.BudgetTokens > 0 {
		sfx = reasoning.Suffix{Kind: reasoning.SuffixBudget, Budget: req.Thinking.BudgetTokens}
	}

	rcfg := reasoning.Resolve(route.TargetModel, sfx, route.ReasoningDefaults, nil, log)

	openaiReq, perr := request.Convert(&req, route.TargetModel, rcfg, route.ToolDialects, log)
	if perr != nil {
		respondError(c, perr)
		return
	}

	if req.Stream {
		s.proxyStream(c, &req, openaiReq, route, rcfg, log)
		return
	}
	s.proxyOnce(c, &req, openaiReq, route, rcfg, log)
}

func (s *Server) proxyOnce(c *gin.Context, req *protocol.AnthropicRequest, openaiReq *protocol.OpenAIRequest, route *router.Resolved, rcfg *reasoning.Config, log *logrus.Entry) {
	resp, perr := s.client.Do(c.Request.Context(), openaiReq, route)
	if perr != nil {
		log.WithError(perr).Error("upstream call failed")
		respondError(c, perr)
		return
	}

	out := nonstream.Convert(resp, req.Model, rcfg, route.ToolDialects)
	log.WithFields(logrus.Fields{
		"stop_reason":   out.StopReason,
		"output_tokens": out.Usage.OutputTokens,
	}).Info("request complete")
	c.JSON(http.StatusOK, out)
}

func (s *Server) proxyStream(c *gin.Context, req *protocol.AnthropicRequest, openaiReq *protocol.OpenAIRequest, route *router.Resolved, rcfg *reasoning.Config, log *logrus.Entry) {
	w, err := newSSEWriter(c)
	if err != nil {
		respondError(c, protocol.NewError(protocol.ErrAPI, "%v", err))
		return
	}

	msgID := fmt.Sprintf("msg_%s", uuid.NewString())
	conv := stream.NewConverter(w, msgID, req.Model, rcfg, route.ToolDialects, log)

	upstreamStream, perr := s.client.Stream(c.Request.Context(), openaiReq, route)
	if perr != nil {
		log.WithError(perr).Error("failed to open upstream stream")
		conv.Fail(perr)
		return
	}
	defer upstreamStream.Close()

	ctx := c.Request.Context()
	for {
		// Cancellation is polled between every chunk pull.
		select {
		case <-ctx.Done():
			log.Debug("client disconnected, closing upstream stream")
			conv.Cancel()
			return
		default:
		}

		if !upstreamStream.Next() {
			break
		}
		if err := conv.Feed(upstreamStream.Current()); err != nil {
			log.WithError(err).Debug("client write failed, stopping stream")
			return
		}
		if conv.Finished() {
			return
		}
	}

	if upstreamStream.Cancelled() || ctx.Err() != nil {
		conv.Cancel()
		return
	}
	if perr := upstreamStream.Err(); perr != nil {
		conv.Fail(perr)
		return
	}
	// [DONE] (or bare EOF) without a finish_reason chunk.
	if err := conv.FinishEOF(); err != nil {
		log.WithError(err).Debug("client write failed during finish")
	}
	usage := conv.Usage()
	log.WithFields(logrus.Fields{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	}).Info("stream complete")
}

// handleCountTokens serves POST /v1/messages/count_tokens.
func (s *Server) handleCountTokens(c *gin.Context) {
	var req protocol.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, protocol.NewError(protocol.ErrInvalidRequest, "invalid request body: %v", err))
		return
	}

	n, err := token.Estimate(&req)
	if err != nil {
		respondError(c, protocol.NewError(protocol.ErrAPI, "token estimate failed: %v", err))
		return
	}
	c.JSON(http.StatusOK, protocol.CountTokensResponse{InputTokens: n})
}

func respondError(c *gin.Context, perr *protocol.Error) {
	c.JSON(protocol.HTTPStatus(perr.Kind), protocol.Envelope(perr))
}
