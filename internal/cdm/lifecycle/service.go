// Package lifecycle orchestrates CDM server startup and graceful shutdown:
// running the IPC listener and the metrics HTTP server together, and on
// first error or shutdown signal stopping them and the already-running
// Main Thread worker (spec §4.3, SPEC_FULL §11).
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rialto-project/cdm-server/internal/logger"
)

// DefaultShutdownTimeout bounds how long Serve waits for components to
// stop once a shutdown has been requested.
const DefaultShutdownTimeout = 30 * time.Second

// MainThreadRunner is the single cooperative task queue every DRM-touching
// operation executes on. Serve does not start it; it only calls Stop
// during shutdown, after the IPC listener has been stopped.
type MainThreadRunner interface {
	Stop(ctx context.Context) error
}

// IPCListener accepts CDM client connections and dispatches requests to
// the Dispatcher/CapabilitiesDispatcher pair until Stop is called or it
// encounters a fatal error.
type IPCListener interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MetricsServer exposes the Prometheus registry over HTTP (SPEC_FULL §11).
// It mirrors AuxiliaryServer's shape from the surrounding lineage's
// runtime package: Start/Stop/Port.
type MetricsServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// Service orchestrates CDM server startup and graceful shutdown. Unlike
// the single-shot AuxiliaryServer fan-in the surrounding lineage's own
// runtime package hand-rolls with a channel and a select, Service runs
// every component inside one errgroup.Group: the first component to
// return an error (or ctx's cancellation) cancels the group's derived
// context, and Serve waits for every other component to unwind before
// returning.
type Service struct {
	shutdownTimeout time.Duration
	metricsServer   MetricsServer

	serveOnce sync.Once
	served    bool
	serveErr  error
}

// New constructs a Service. A zero shutdownTimeout uses
// DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout == 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{shutdownTimeout: shutdownTimeout}
}

// SetMetricsServer must be called before Serve(); passing nil disables
// the metrics HTTP server entirely.
func (s *Service) SetMetricsServer(server MetricsServer) {
	if s.served {
		panic("cannot set metrics server after Serve() has been called")
	}
	s.metricsServer = server
	if server != nil {
		logger.Info("metrics server registered", "port", server.Port())
	}
}

// Serve runs the IPC listener and (if registered) the metrics server, and
// blocks until ctx is canceled or one of them fails; it then stops the IPC
// listener, the Main Thread and the metrics server in that order.
// It is safe to call only once; subsequent calls are no-ops that return
// the first call's error.
func (s *Service) Serve(ctx context.Context, mainThread MainThreadRunner, ipc IPCListener) error {
	s.serveOnce.Do(func() {
		s.served = true
		s.serveErr = s.serve(ctx, mainThread, ipc)
	})
	return s.serveErr
}

func (s *Service) serve(ctx context.Context, mainThread MainThreadRunner, ipc IPCListener) error {
	logger.Info("starting cdm-server runtime")

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return ipc.Serve(groupCtx)
	})

	if s.metricsServer != nil {
		group.Go(func() error {
			if err := s.metricsServer.Start(groupCtx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	err := group.Wait()
	s.shutdown(mainThread, ipc)

	logger.Info("cdm-server runtime stopped")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Service) shutdown(mainThread MainThreadRunner, ipc IPCListener) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("stopping ipc listener")
	if err := ipc.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping ipc listener", "error", err)
	}

	logger.Info("stopping main thread")
	if err := mainThread.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping main thread", "error", err)
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}
}
