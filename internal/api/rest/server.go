package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/metrics"
)

// Server represents the API server
type Server struct {
	httpServer      *http.Server
	handler         *Handler
	metrics         *metrics.ReconciliationMetrics
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// NewServer wires routes and middleware. m may be nil, in which case
// /metrics is not served.
func NewServer(cfg config.ServerConfig, handler *Handler, m *metrics.ReconciliationMetrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		handler:         handler,
		metrics:         m,
		logger:          logger.With(zap.String("component", "api")),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Routes returns the full handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handler.handleHealth)
	mux.HandleFunc("GET /api/v1/statistics", s.instrument("list_statistics", s.handler.handleListStatistics))
	mux.HandleFunc("GET /api/v1/statistics/{setting}", s.instrument("get_statistics", s.handler.handleGetStatistics))
	mux.HandleFunc("POST /api/v1/runs", s.instrument("trigger_run", s.handler.handleTriggerRun))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return Chain(mux,
		RecoveryMiddleware(s.logger),
		RequestIDMiddleware(),
		TracingMiddleware(otel.Tracer("github.com/securelens/securelens/api")),
		LoggingMiddleware(s.logger),
	)
}

func (s *Server) instrument(name string, fn http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return fn
	}
	return s.metrics.InstrumentHTTPHandler(name, fn)
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("starting API server", zap.String("address", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(l); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// ListenAndServe listens on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, l)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", zap.Error(err))
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
