// Package monitor serves health, readiness, metrics and a live websocket
// feed of the running interview session.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interviewer/internal/observability"
)

// Options configures the monitor server
type Options struct {
	Host           string // empty binds every interface
	Port           string
	MetricsEnabled bool
	Checks         map[string]observability.HealthCheckFunc
	Controls       Controls // optional; nil makes the feed read-only
}

// Server is the monitor HTTP server
type Server struct {
	hub    *Hub
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a monitor server with its routes registered
func NewServer(opts Options) *Server {
	hub := NewHub()
	logger := observability.GetLogger().With().Str("component", "monitor").Logger()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(opts.Checks))
	mux.HandleFunc("/ws/session", hub.HandleWS(opts.Controls))
	if opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return &Server{
		hub: hub,
		server: &http.Server{
			Addr:         net.JoinHostPort(opts.Host, opts.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Hub returns the session feed
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run listens until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("endpoint", fmt.Sprintf("ws://%s/ws/session", ln.Addr())).
			Msg("Monitor listening")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down monitor...")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	<-errCh
	return nil
}
