package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/teemow/invoicer/internal/app"
	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/prompt"
)

// setup loads the configuration and wires the application. Logs go to
// logOut; the caller closes the returned App.
func setup(ctx context.Context, logOut io.Writer, p prompt.Prompter) (*app.App, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if debugMode {
		level = "debug"
	}
	logger, err := logging.New(logOut, level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrumentation config: %w", err)
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	a, err := app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithProvider(provider),
		app.WithPrompter(p),
	)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	return a, nil
}

// closeApp flushes telemetry and releases resources, logging failures.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("shutdown incomplete", logging.Err(err))
	}
}
