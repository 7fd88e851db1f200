// Package http is the client request surface: submit(objective) → id,
// status(id) → snapshot, and the long-lived control socket the browser
// agent dials in on, plus a liveness probe.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/infrastructure/actionlink"
	"github.com/browserlane/taskengine/internal/interfaces/http/handlers"
)

// Server wraps the gin engine and the underlying *http.Server for graceful
// shutdown.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// New constructs the request surface. link is the single Action Link
// instance whose ServeWS handles GET /ws; taskHandler implements
// POST /execute and GET /status/:id.
func New(addr string, link *actionlink.Link, taskHandler *handlers.TaskHandler, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(requestLogger(logger))

	e.POST("/execute", taskHandler.Execute)
	e.GET("/status/:task_id", taskHandler.Status)
	e.GET("/healthz", taskHandler.Healthz)
	e.GET("/ws", func(c *gin.Context) {
		if err := link.ServeWS(c.Writer, c.Request); err != nil {
			logger.Warn("control socket upgrade failed", zap.Error(err))
			c.Status(http.StatusBadRequest)
		}
	})

	return &Server{
		engine: e,
		srv:    &http.Server{Addr: addr, Handler: e},
		logger: logger.With(zap.String("component", "http-server")),
	}
}

// Start runs the server in a background goroutine. It does not block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
