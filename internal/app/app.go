package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/teemow/invoicer/internal/artifact"
	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/gateway"
	"github.com/teemow/invoicer/internal/gmail"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/ledger"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/pipeline"
	"github.com/teemow/invoicer/internal/prompt"
	"github.com/teemow/invoicer/internal/sheets"
)

// App holds every component built from one Config.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Provider *instrumentation.Provider
	Store    *google.FileStore
	Auth     *google.AuthClient
	Gateway  *gateway.Gateway
	Mailer   *gmail.Mailer
	Sink     *artifact.FileSink
	Archive  artifact.Sink
	Ledger   *ledger.Ledger
	Prompter prompt.Prompter

	httpClient *http.Client
	gcs        *storage.Client
	now        func() time.Time

	// runMu serializes RunInvoice; the MCP server may call it concurrently.
	runMu sync.Mutex
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.Logger = l }
}

// WithPrompter sets the prompter used for the OAuth code and the send
// confirmation.
func WithPrompter(p prompt.Prompter) Option {
	return func(a *App) { a.Prompter = p }
}

// WithProvider records metrics and traces on p.
func WithProvider(p *instrumentation.Provider) Option {
	return func(a *App) { a.Provider = p }
}

// WithHTTPClient replaces the base HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithClock overrides the clock that dates invoices.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New wires the application from cfg. The ledger and the archive are only
// opened when configured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Prompter == nil {
		a.Prompter = prompt.Func(func(context.Context, string) (string, error) {
			return "", prompt.ErrCancelled
		})
	}
	if a.Provider == nil {
		provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{})
		if err != nil {
			return nil, err
		}
		a.Provider = provider
	}
	if a.httpClient == nil {
		a.httpClient = google.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	}

	metrics := a.Provider.Metrics()
	audit := instrumentation.NewAuditLogger(a.Logger, instrumentation.AuditLoggingConfig{Enabled: true})

	a.Store = google.NewFileStore(cfg.CredentialsPath)
	a.Auth = google.NewAuthClient(cfg.OAuth, a.Store, a.httpClient,
		google.WithMetrics(metrics),
		google.WithLogger(a.Logger),
	)

	driveOpts := []drive.Option{drive.WithTimeout(cfg.HTTP.Timeout), drive.WithMetrics(metrics), drive.WithLogger(a.Logger)}
	if cfg.HTTP.DriveEndpoint != "" {
		driveOpts = append(driveOpts, drive.WithEndpoint(cfg.HTTP.DriveEndpoint))
	}
	sheetsOpts := []sheets.Option{sheets.WithTimeout(cfg.HTTP.Timeout), sheets.WithMetrics(metrics), sheets.WithLogger(a.Logger)}
	if cfg.HTTP.SheetsEndpoint != "" {
		sheetsOpts = append(sheetsOpts, sheets.WithEndpoint(cfg.HTTP.SheetsEndpoint))
	}
	a.Gateway = gateway.New(drive.NewClient(a.httpClient, driveOpts...), sheets.NewClient(a.httpClient, sheetsOpts...))

	mailerOpts := []gmail.Option{
		gmail.WithTimeout(cfg.HTTP.Timeout),
		gmail.WithMetrics(metrics),
		gmail.WithAuditLogger(audit),
		gmail.WithLogger(a.Logger),
	}
	if cfg.HTTP.GmailEndpoint != "" {
		mailerOpts = append(mailerOpts, gmail.WithEndpoint(cfg.HTTP.GmailEndpoint))
	}
	a.Mailer = gmail.NewMailer(a.httpClient, mailerOpts...)

	a.Sink = artifact.NewFileSink(cfg.Invoice.OutputDir)

	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		a.Ledger = l
	}

	if cfg.Archive.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.gcs = client
		a.Archive = artifact.NewGCSSink(client, cfg.Archive.Bucket, cfg.Archive.Prefix, a.Logger)
	}

	return a, nil
}

// Close releases the ledger and the storage client, pushes metrics when a
// Pushgateway is configured and shuts instrumentation down.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close ledger: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage client: %w", err))
		}
	}
	if a.Provider != nil {
		if err := a.Provider.Push(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.Provider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Credential loads the stored credential, bootstrapping one through the
// prompter when none exists.
func (a *App) Credential(ctx context.Context) (google.Credential, error) {
	return google.LoadOrBootstrap(ctx, a.Store, a.Auth, a.Prompter)
}

// Authenticate runs the bootstrap flow unconditionally.
func (a *App) Authenticate(ctx context.Context) (google.Credential, error) {
	return a.Auth.Bootstrap(ctx, a.Prompter)
}

// Orchestrator builds a pipeline starting from cred.
func (a *App) Orchestrator(cred google.Credential) *pipeline.Orchestrator {
	opts := []pipeline.Option{
		pipeline.WithMetrics(a.Provider.Metrics()),
		pipeline.WithLogger(a.Logger),
		pipeline.WithClock(a.now),
	}
	if a.Ledger != nil {
		opts = append(opts, pipeline.WithJournal(a.Ledger))
	}
	if a.Archive != nil {
		opts = append(opts, pipeline.WithArchive(a.Archive))
	}
	return pipeline.New(a.Gateway, a.Auth, a.Sink, cred, a.Config.Invoice, opts...)
}

// History returns up to limit recorded runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]ledger.Run, error) {
	if a.Ledger == nil {
		return nil, errors.New("run history is disabled (ledger.path is empty)")
	}
	return a.Ledger.List(ctx, limit)
}

func (a *App) logger() *slog.Logger {
	return logging.WithOperation(a.Logger, "invoice")
}
