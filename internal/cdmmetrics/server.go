package cdmmetrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rialto-project/cdm-server/internal/cdm/lifecycle"
	"github.com/rialto-project/cdm-server/internal/logger"
)

var _ lifecycle.MetricsServer = (*Server)(nil)

// Server exposes a Metrics registry's collectors over HTTP at /metrics,
// for scraping. It implements lifecycle.MetricsServer. Callers may
// register further routes (e.g. the CLI's admin status/session endpoints)
// via Handle before Start is called.
type Server struct {
	mux          *http.ServeMux
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// NewServer builds a metrics HTTP server bound to port, serving m's
// registry. Passing a disabled (nil) m still returns a usable Server, but
// no /metrics route is registered on it.
func NewServer(port int, m *Metrics) *Server {
	mux := http.NewServeMux()
	if reg := m.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return &Server{
		mux: mux,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		port: port,
	}
}

// Handle registers an additional route on the server's mux. Must be
// called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start serves /metrics until ctx is canceled, then shuts down
// gracefully and returns nil.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("metrics server shutdown error: %w", shutdownErr)
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		} else {
			logger.Info("metrics server stopped gracefully")
		}
	})
	return err
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.port
}
