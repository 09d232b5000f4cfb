package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/invoicer/internal/app"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/server"
	"github.com/teemow/invoicer/internal/tools/invoice_tools"
)

func newServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server on stdio so AI assistants
can run the invoice pipeline and read the run history.

Tools:
  - invoice_run: create today's invoice; send=true with confirm=true emails it
  - invoice_history: list recorded runs

stdin carries the protocol, so the server never prompts. Authorize first with
'invoicer auth'.

Metrics:
  With INSTRUMENTATION_ENABLED=true and the prometheus exporter, --metrics-addr
  (or METRICS_ADDR) serves /metrics, /healthz and /readyz on a dedicated port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = os.Getenv("METRICS_ADDR")
			}
			return runServe(cmd.Context(), metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics server address (e.g. :9090). Empty disables it. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(ctx context.Context, metricsAddr string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A nil prompter makes interactive steps fail instead of reading stdin.
	a, err := setup(ctx, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if metricsAddr != "" {
		metricsServer, err := startMetricsServer(a, metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	mcpSrv := newMCPServer(a)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

func newMCPServer(a *app.App) *mcpserver.MCPServer {
	mcpSrv := mcpserver.NewMCPServer("invoicer", version,
		mcpserver.WithToolCapabilities(true),
	)

	var (
		metrics *instrumentation.Metrics
		audit   *instrumentation.AuditLogger
	)
	if a.Provider.Enabled() {
		instrConfig := instrumentation.DefaultConfig()
		metrics = a.Provider.Metrics()
		audit = instrumentation.NewAuditLogger(a.Logger, instrConfig.AuditLogging)
	}
	invoice_tools.RegisterInvoiceTools(mcpSrv, a, metrics, audit)
	return mcpSrv
}

func startMetricsServer(a *app.App, addr string) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: a.Provider,
		Logger:                  a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	ready := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.Start(ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-ready:
		a.Logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, errors.New("metrics server startup timed out")
	}
}
