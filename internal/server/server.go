// Package server is the HTTP transport for the proxy.
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/plexo-dev/plexo/internal/config"
	"github.com/plexo-dev/plexo/internal/router"
	"github.com/plexo-dev/plexo/internal/upstream"
)

// Server wires the gin engine to the conversion core.
type Server struct {
	engine     *gin.Engine
	cfg        config.Server
	router     *router.Router
	client     *upstream.Client
	authSecret string
}

// New builds a Server from the loaded config.
func New(cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg.Server,
		router:     router.New(cfg.BuildRoutes()),
		authSecret: cfg.Server.AuthSecret,
		client: upstream.New(upstream.Options{
			RequestTimeout: cfg.Server.RequestTimeout.Std(),
			IdleTimeout:    cfg.Server.StreamIdleTimeout.Std(),
			MaxRetries:     cfg.Server.MaxRetries,
		}, logrus.WithField("component", "upstream")),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestID())

	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/v1", s.auth())
	v1.POST("/messages", s.handleMessages)
	v1.POST("/messages/count_tokens", s.handleCountTokens)

	s.engine = engine
	return s
}

// Reload swaps the routing table after a config reload. Server transport
// settings are fixed for the process lifetime.
func (s *Server) Reload(cfg *config.Config) {
	s.router.Reload(cfg.BuildRoutes())
}

// Run blocks serving HTTP.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	logrus.WithField("addr", addr).Info("listening")
	return s.engine.Run(addr)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
