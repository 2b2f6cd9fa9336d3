// Package server exposes the operational endpoints of a long-running worker:
// prometheus metrics and a health report. It does not accept recognition
// requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultShutdownTimeout = 10 * time.Second

// StatsFunc reports component statistics for the health endpoint.
type StatsFunc func() any

// Config holds ops server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server serves /metrics and /healthz.
type Server struct {
	cfg     Config
	http    *http.Server
	gather  prometheus.Gatherer
	stats   StatsFunc
	logger  *slog.Logger
	started time.Time
}

// New creates an ops server. A nil logger uses slog.Default; a nil stats
// function leaves the stats out of health responses.
func New(cfg Config, gatherer prometheus.Gatherer, stats StatsFunc, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, gather: gatherer, stats: stats, logger: logger, started: time.Now()}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.logMiddleware(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})))
	mux.Handle("/healthz", s.logMiddleware(http.HandlerFunc(s.healthHandler)))
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting ops server", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	s.logger.Info("Ops server stopped")
	return <-errCh
}
