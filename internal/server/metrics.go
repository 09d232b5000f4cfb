package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/invoicer/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	// DefaultMetricsReadTimeout is the default read timeout for the metrics server.
	DefaultMetricsReadTimeout = 10 * time.Second

	// DefaultMetricsWriteTimeout is the default write timeout for the metrics server.
	DefaultMetricsWriteTimeout = 10 * time.Second

	// DefaultMetricsIdleTimeout is the default idle timeout for the metrics server.
	DefaultMetricsIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// MetricsServerConfig holds configuration for the metrics server.
type MetricsServerConfig struct {
	// Addr is the address to bind the metrics server to (e.g., ":9090").
	Addr string

	// InstrumentationProvider provides the Prometheus metrics handler.
	InstrumentationProvider *instrumentation.Provider

	// Health answers /healthz and /readyz. Optional.
	Health *HealthChecker

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// MetricsServer serves Prometheus metrics on a dedicated port while the MCP
// server runs on stdio.
type MetricsServer struct {
	handler    http.Handler
	health     *HealthChecker
	logger     *slog.Logger
	addr       string
	httpServer *http.Server
	listener   net.Listener
}

// NewMetricsServer creates a metrics server. The provider must be enabled
// and use the Prometheus exporter.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	if config.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required for metrics server")
	}
	if !config.InstrumentationProvider.Enabled() {
		return nil, errors.New("instrumentation provider is not enabled")
	}
	handler := config.InstrumentationProvider.PrometheusHandler()
	if handler == nil {
		return nil, errors.New("instrumentation provider does not use the prometheus exporter")
	}
	if config.Health == nil {
		config.Health = NewHealthChecker()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &MetricsServer{
		handler: handler,
		health:  config.Health,
		logger:  config.Logger,
		addr:    config.Addr,
	}, nil
}

// Handler returns the mux served by the metrics server.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	s.health.RegisterHealthEndpoints(mux)
	return mux
}

// Start binds the listener and serves until Shutdown. It blocks; the ready
// channel, when non-nil, is closed once the listener is bound.
func (s *MetricsServer) Start(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultMetricsReadTimeout,
		WriteTimeout:      DefaultMetricsWriteTimeout,
		IdleTimeout:       DefaultMetricsIdleTimeout,
	}

	s.logger.Info("starting metrics server", slog.String("addr", ln.Addr().String()))
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown marks the server not ready and stops it gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (s *MetricsServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
