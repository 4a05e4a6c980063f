package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/plexo-dev/plexo/internal/protocol"
)

const requestIDKey = "request_id"

// requestID tags every request with an opaque id, echoed in a response
// header for correlation.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("x-plexo-request-id", id)
		c.Next()
	}
}

// auth enforces the shared secret when one is configured. Both the
// Anthropic-style x-api-key header and a bearer token are accepted.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authSecret == "" {
			c.Next()
			return
		}

		key := c.GetHeader("x-api-key")
		if key == "" {
			bearer := c.GetHeader("Authorization")
			key = strings.TrimPrefix(bearer, "Bearer ")
		}
		if key != s.authSecret {
			perr := protocol.NewError(protocol.ErrAuthentication, "invalid api key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.Envelope(perr))
			return
		}
		c.Next()
	}
}
