// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Filipe Johansson

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FilipeJohansson/gocollab"
	"github.com/FilipeJohansson/gocollab/handler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type Option func(*Server) error

// Server serves the collaboration websocket endpoint together with health,
// stats and metrics routes.
type Server struct {
	router         *gocollab.Router
	handler        *handler.Handler
	handlerOptions []handler.Option
	config         *gocollab.ServerConfig
	gatherer       prometheus.Gatherer
	logger         *gocollab.LoggerConfig

	server    *http.Server
	isRunning bool
	mu        sync.RWMutex
}

// NewServer returns a Server for router listening on :8080 at /ws.
func NewServer(router *gocollab.Router, options ...Option) (*Server, error) {
	if router == nil {
		return nil, gocollab.ErrRouterIsNil
	}

	s := &Server{
		router:   router,
		config:   gocollab.DefaultServerConfig(),
		gatherer: prometheus.DefaultGatherer,
		logger:   router.Logger(),
	}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	opts := append([]handler.Option{handler.WithAllowedOrigins(s.config.AllowedOrigins)}, s.handlerOptions...)
	h, err := handler.NewHandler(router, opts...)
	if err != nil {
		return nil, err
	}
	s.handler = h

	return s, nil
}

// ===== Functional Options =====

// WithPort sets the port to listen on, in 1-65535.
func WithPort(port int) Option {
	return func(s *Server) error {
		if port <= 0 || port > 65535 {
			return gocollab.NewInvalidPortError(port)
		}
		s.config.Port = port
		return nil
	}
}

// WithPath sets the websocket path. A missing leading slash is added.
func WithPath(path string) Option {
	return func(s *Server) error {
		if path == "" {
			path = "/"
		}
		if path[0] != '/' {
			path = "/" + path
		}
		s.config.Path = path
		return nil
	}
}

func WithCORS(enabled bool) Option {
	return func(s *Server) error {
		s.config.EnableCORS = enabled
		return nil
	}
}

// WithAllowedOrigins restricts both CORS and websocket upgrades to origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) error {
		s.config.AllowedOrigins = origins
		return nil
	}
}

// WithSSL serves over TLS with the given PEM files.
func WithSSL(certFile, keyFile string) Option {
	return func(s *Server) error {
		if certFile == "" || keyFile == "" {
			return errors.New("SSL requires both cert and key files")
		}
		s.config.EnableSSL = true
		s.config.CertFile = certFile
		s.config.KeyFile = keyFile
		return nil
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return gocollab.ErrTimeoutsLessThanOne
		}
		s.config.ShutdownTimeout = timeout
		return nil
	}
}

// WithHandlerOptions passes options through to the websocket handler.
func WithHandlerOptions(options ...handler.Option) Option {
	return func(s *Server) error {
		s.handlerOptions = append(s.handlerOptions, options...)
		return nil
	}
}

// WithGatherer sets what /metrics exposes. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) error {
		if g == nil {
			return errors.New("gatherer cannot be nil")
		}
		s.gatherer = g
		return nil
	}
}

// ===== Accessors =====

func (s *Server) Config() gocollab.ServerConfig {
	return *s.config
}

func (s *Server) WSHandler() *handler.Handler {
	return s.handler
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the full HTTP stack, for mounting or testing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s.handler)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if !s.config.EnableCORS {
		return mux
	}

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)
}

// ===== CONTROLLERS =====

// Start serves until Stop is called.
func (s *Server) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext serves until ctx is done or Stop is called, then shuts
// down gracefully. The router's relay loop runs for the same lifetime.
func (s *Server) StartWithContext(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return gocollab.ErrServerAlreadyRunning
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.handler.Config().ReadTimeout,
		WriteTimeout:      s.handler.Config().WriteTimeout,
	}
	srv := s.server
	s.isRunning = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gocollab.SafeGo(s.logger, "RouterRelay", func() {
		if err := s.router.Run(runCtx); err != nil {
			s.logger.Log(gocollab.LogTypeRelay, gocollab.LogLevelError, "relay stopped: %v", err)
		}
	})

	errChan := make(chan error, 1)
	go func() {
		s.logger.Log(gocollab.LogTypeServer, gocollab.LogLevelInfo, "server starting on port %d, path %s", s.config.Port, s.config.Path)

		var err error
		if s.config.EnableSSL {
			err = srv.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errChan <- err
	}()

	select {
	case <-ctx.Done():
		return s.Stop()

	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.closeSessions()

		if errors.Is(err, http.ErrServerClosed) {
			s.logger.Log(gocollab.LogTypeServer, gocollab.LogLevelInfo, "server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop shuts the HTTP server down and closes every connection and session.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return gocollab.ErrServerNotRunning
	}
	s.isRunning = false
	srv := s.server
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.closeSessions()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Log(gocollab.LogTypeServer, gocollab.LogLevelInfo, "server stopped")
	return nil
}

func (s *Server) closeSessions() {
	s.handler.Shutdown()
	s.router.Shutdown()
}

type statsResponse struct {
	gocollab.Stats
	Connections      int            `json:"connections"`
	ConnectionsPerIP map[string]int `json:"connections_per_ip,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, perIP := s.handler.GetConnectionStats()
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:            s.router.Stats(),
		Connections:      total,
		ConnectionsPerIP: perIP,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
