// Package server provides the HTTP server and the request middleware
// shared by every route.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server already running")

// Option configures a Server.
type Option func(*Server)

// WithMetrics adds the request metrics middleware.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithServiceName names the tracer used for request spans.
func WithServiceName(name string) Option {
	return func(s *Server) {
		s.serviceName = name
	}
}

// Server is the HTTP listener in front of a gin engine.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         config.ServerConfig
	logger      observability.Logger
	metrics     *observability.Metrics
	serviceName string

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// New creates a server with the standard middleware installed:
// request ID, tracing, recovery, metrics, access log and body limit.
func New(cfg config.ServerConfig, logger observability.Logger, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		engine:      gin.New(),
		cfg:         cfg,
		logger:      logger.Named("http"),
		serviceName: "wikiclip",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.ContextWithFallback = true
	// ClientIP feeds rate limiting and audit records, so forwarding
	// headers count only from configured proxies.
	if err := s.engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		s.logger.Error("invalid trusted proxies, trusting none", observability.Error(err))
		_ = s.engine.SetTrustedProxies(nil)
	}
	s.engine.Use(RequestID(), Tracing(s.serviceName), Recovery(s.logger))
	if s.metrics != nil {
		s.engine.Use(Metrics(s.metrics))
	}
	s.engine.Use(Logging(s.logger, "/health", "/metrics"))
	if cfg.MaxBodyBytes > 0 {
		s.engine.Use(BodyLimit(cfg.MaxBodyBytes))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no route matched the request"})
	})

	return s
}

// Engine returns the gin engine routes are registered on.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = l.Close()
		return ErrAlreadyRunning
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: s.cfg.ReadTimeout.Duration(),
		WriteTimeout:      s.cfg.WriteTimeout.Duration(),
		IdleTimeout:       s.cfg.IdleTimeout.Duration(),
	}
	s.listener = l
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", l.Addr().String()),
		observability.Duration("read_timeout", s.cfg.ReadTimeout.Duration()),
		observability.Duration("write_timeout", s.cfg.WriteTimeout.Duration()),
	)

	err := srv.Serve(l)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
