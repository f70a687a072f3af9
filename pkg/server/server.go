// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the engine over HTTP: the streamable MCP endpoint
// behind the authentication middleware, plus the unauthenticated discovery,
// health, and metrics routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/delego/pkg/auth"
	"github.com/stacklok/delego/pkg/core"
	"github.com/stacklok/delego/pkg/logger"
	"github.com/stacklok/delego/pkg/tools"
)

const (
	// defaultReadHeaderTimeout prevents slowloris attacks by limiting time
	// to read request headers.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultIdleTimeout is the maximum time to wait for the next request
	// when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxHeaderBytes is the maximum size of request headers (1 MB).
	defaultMaxHeaderBytes = 1 << 20

	// defaultShutdownTimeout is the maximum time to wait for graceful
	// shutdown.
	defaultShutdownTimeout = 10 * time.Second
)

// Server hosts the engine. Build it with New, run it with Start.
type Server struct {
	core    *core.CoreContext
	handler http.Handler

	httpServer *http.Server
	listener   net.Listener
	listenerMu sync.RWMutex

	ready     chan struct{}
	readyOnce sync.Once
}

// New assembles the HTTP surface around an already-built CoreContext.
func New(coreCtx *core.CoreContext) *Server {
	cfg := coreCtx.Config
	mcpServer := tools.NewMCPServer(cfg.MCP.Name, cfg.MCP.Version, coreCtx.Tools)
	streamable := mcpserver.NewStreamableHTTPServer(
		mcpServer,
		mcpserver.WithEndpointPath(cfg.MCP.EndpointPath),
	)

	s := &Server{
		core:  coreCtx,
		ready: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	// Unauthenticated routes: liveness, RFC 9728 discovery, metrics.
	r.Get("/health", s.handleHealth)
	r.Handle(auth.WellKnownOAuthResourcePath,
		auth.NewProtectedResourceHandler(cfg.MCP.ResourceURL(), cfg.Issuers(), nil))
	if coreCtx.Metrics != nil {
		r.Handle(cfg.Telemetry.MetricsPath(), coreCtx.Metrics.Handler())
		logger.Infow("Prometheus metrics endpoint enabled", "path", cfg.Telemetry.MetricsPath())
	}

	// The MCP endpoint sits behind the bearer middleware; the streamable
	// transport serves POST, GET, and DELETE on the same path.
	r.Handle(cfg.MCP.EndpointPath, coreCtx.Auth.Middleware(cfg.MCP.Name)(streamable))

	s.handler = r
	return s
}

// Handler exposes the assembled route tree. Tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is cancelled or the server fails, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.core.Config
	addr := fmt.Sprintf("%s:%d", cfg.MCP.Host, cfg.MCP.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Port 0 binds a random available port; Address reports the real one.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	logger.Infow("starting server",
		"address", listener.Addr().String(),
		"endpoint", cfg.MCP.EndpointPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	s.readyOnce.Do(func() { close(s.ready) })

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down server")
		return s.Stop(context.Background())
	case err := <-errCh:
		logger.Errorf("HTTP server error: %v", err)
		if stopErr := s.Stop(context.Background()); stopErr != nil {
			return fmt.Errorf("server error: %w; stop error: %v", err, stopErr)
		}
		return err
	}
}

// Stop drains in-flight requests, then tears the engine components down.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
		}
	}

	s.listenerMu.Lock()
	s.listener = nil
	s.listenerMu.Unlock()

	if err := s.core.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("server stopped")
	return nil
}

// Address returns the actual listen address, useful when binding port 0.
func (s *Server) Address() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.core.Config.MCP.Host, s.core.Config.MCP.Port)
}

// Ready is closed once the listener is serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// handleHealth confirms the HTTP server is responding. Deliberately minimal:
// no version or session data leaks through the unauthenticated route.
func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Errorf("failed to encode health response: %v", err)
	}
}
