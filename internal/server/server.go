// Package server exposes the read-mostly status API: pipeline counters and
// the poison list, which an operator can clear to re-admit a file.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/ingest"
	"github.com/mantonx/framegrab/internal/poison"
)

// StatsProvider reports pipeline state.
type StatsProvider interface {
	Stats() ingest.PoolStats
}

// PoisonStore is the subset of the poison list the API manages.
type PoisonStore interface {
	List(ctx context.Context) ([]poison.PoisonedFile, error)
	Remove(ctx context.Context, path string) (bool, error)
}

// Server is the status HTTP server.
type Server struct {
	engine    *gin.Engine
	http      *http.Server
	stats     StatsProvider
	submitter ingest.Submitter
	store     PoisonStore
	logger    hclog.Logger
	started   time.Time
}

// New builds the router. store may be nil when the poison list is disabled.
func New(listen string, stats StatsProvider, submitter ingest.Submitter, store PoisonStore, logger hclog.Logger) *Server {
	if !logger.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:    gin.New(),
		stats:     stats,
		submitter: submitter,
		store:     store,
		logger:    logger.Named("server"),
		started:   time.Now(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         listen,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status API listening", "addr", ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs every request except health checks at debug level.
func requestLogger(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
		for _, err := range c.Errors {
			logger.Error("request error", "path", c.Request.URL.Path, "error", err.Error())
		}
	}
}
