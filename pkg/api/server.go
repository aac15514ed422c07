// Package api exposes the HTTP surface of the service: the chi router,
// the authenticated file API, health probes, and the metrics endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloudrove/cloudrove/internal/logger"
)

// Server provides the HTTP server for the REST API.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates the API HTTP server over a prepared router.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests. Defaults are applied here so the server works
// correctly even when created directly in tests.
func NewServer(config APIConfig, router http.Handler) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         config.Addr(),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
