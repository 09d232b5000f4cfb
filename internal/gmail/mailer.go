package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
)

// DefaultEndpoint is the Gmail API base URL.
const DefaultEndpoint = "https://gmail.googleapis.com/"

const sendPath = "upload/gmail/v1/users/me/messages/send?uploadType=media"

// Mailer uploads composed messages through the Gmail media endpoint.
type Mailer struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
	logger     *slog.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithEndpoint overrides the API base URL. It must end in a slash.
func WithEndpoint(endpoint string) Option {
	return func(m *Mailer) { m.endpoint = endpoint }
}

// WithTimeout sets the deadline of the upload.
func WithTimeout(d time.Duration) Option {
	return func(m *Mailer) { m.timeout = d }
}

// WithMetrics records send metrics on metrics.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *Mailer) { m.metrics = metrics }
}

// WithAuditLogger records every dispatch on audit.
func WithAuditLogger(audit *instrumentation.AuditLogger) Option {
	return func(m *Mailer) { m.audit = audit }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) { m.logger = l }
}

// NewMailer creates a Mailer on top of the shared base HTTP client.
func NewMailer(httpClient *http.Client, opts ...Option) *Mailer {
	m := &Mailer{
		httpClient: httpClient,
		endpoint:   DefaultEndpoint,
		metrics:    &instrumentation.Metrics{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !strings.HasSuffix(m.endpoint, "/") {
		m.endpoint += "/"
	}
	m.logger = logging.WithService(m.logger, instrumentation.ServiceGmail)
	return m
}

// Send uploads msg as a raw message/rfc822 body and returns the id Gmail
// assigned to the sent message. runID only tags the audit record.
func (m *Mailer) Send(ctx context.Context, runID string, msg *Message, token string) (string, error) {
	const op = "gmail.send"

	if msg == nil || len(msg.Bytes()) == 0 {
		return "", fmt.Errorf("message is empty")
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationSend)
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	dispatch := instrumentation.NewDispatch(runID, msg.From, msg.To).WithSpanContext(ctx)
	dispatch.Subject = msg.Subject
	dispatch.Size = msg.ContentLength()

	start := time.Now()
	id, err := m.upload(ctx, op, msg, token)
	duration := time.Since(start)

	status := instrumentation.StatusFor(err)
	m.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, instrumentation.OperationSend, status, duration)
	m.metrics.RecordEmailSent(ctx, status, msg.To)
	instrumentation.EndSpan(span, err)
	m.audit.LogDispatch(dispatch.Complete(id, err))

	if err != nil {
		m.logger.Error("failed to send invoice email", logging.Err(err))
		return "", err
	}
	m.logger.Info("invoice email sent",
		slog.String("message_id", id),
		slog.Int64("size_bytes", msg.ContentLength()),
		slog.Duration(logging.KeyDuration, duration),
	)
	return id, nil
}

func (m *Mailer) upload(ctx context.Context, op string, msg *Message, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+sendPath, bytes.NewReader(msg.Bytes()))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "message/rfc822")
	req.ContentLength = msg.ContentLength()

	client := google.AuthorizedClient(ctx, m.httpClient, token)
	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.FromTransport(op, err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", apperr.FromGoogle(op, err)
	}

	var sent gmailapi.Message
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return "", apperr.Wrap(apperr.KindDecode, op, err)
	}
	if sent.Id == "" {
		return "", apperr.New(apperr.KindDecode, op, "response has no message id")
	}
	return sent.Id, nil
}
