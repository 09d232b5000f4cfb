package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
)

// ValueInputUserEntered makes the API parse values as if typed into the UI,
// so a date string becomes a date cell.
const ValueInputUserEntered = "USER_ENTERED"

// Client wraps the Google Sheets API. Like the Drive client it takes the
// bearer token per call.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTimeout sets the deadline applied to every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMetrics records API metrics on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Sheets client on top of the shared base HTTP client.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		metrics:    &instrumentation.Metrics{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithService(c.logger, instrumentation.ServiceSheets)
	return c
}

// UpdateCell writes value into cellRange of spreadsheetID. The body is a
// single row with a single value.
func (c *Client) UpdateCell(ctx context.Context, token, spreadsheetID, cellRange, value string) error {
	const op = "sheets.update"

	if spreadsheetID == "" || cellRange == "" {
		return fmt.Errorf("spreadsheetID and cellRange are required")
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(google.AuthorizedClient(ctx, c.httpClient, token)),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Sheets service: %w", err)
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceSheets, instrumentation.OperationUpdate,
		instrumentation.DocumentAttr(spreadsheetID))
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	_, err = svc.Spreadsheets.Values.Update(spreadsheetID, cellRange, &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).
		ValueInputOption(ValueInputUserEntered).
		Context(ctx).
		Do()
	err = apperr.FromGoogle(op, err)

	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceSheets, instrumentation.OperationUpdate, instrumentation.StatusFor(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	if err != nil {
		c.logger.Warn("cell update failed",
			logging.Document(spreadsheetID),
			slog.String("range", cellRange),
			logging.Err(err),
		)
		return err
	}
	return nil
}
