package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/invoicer/internal/logging"
)

// Dispatch captures one outbound invoice email for the audit trail.
//
// Recipient and Sender are PII. Unless the audit logger is configured with
// IncludePII they are logged as anonymized hashes plus the domain.
type Dispatch struct {
	RunID     string
	Sender    string
	Recipient string
	Subject   string
	MessageID string
	Size      int64

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
}

// NewDispatch starts timing a dispatch.
func NewDispatch(runID, sender, recipient string) *Dispatch {
	return &Dispatch{
		RunID:     runID,
		Sender:    sender,
		Recipient: recipient,
		StartTime: time.Now(),
	}
}

// WithSpanContext copies the trace id of the current span.
func (d *Dispatch) WithSpanContext(ctx context.Context) *Dispatch {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		d.TraceID = span.SpanContext().TraceID().String()
	}
	return d
}

// Complete stops the timer and records the outcome.
func (d *Dispatch) Complete(messageID string, err error) *Dispatch {
	d.Duration = time.Since(d.StartTime)
	d.MessageID = messageID
	d.Success = err == nil
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

func (d *Dispatch) attrs(includePII bool) []any {
	args := []any{
		slog.Duration(logging.KeyDuration, d.Duration),
		slog.Bool("success", d.Success),
		slog.Int64("size_bytes", d.Size),
	}
	if includePII {
		args = append(args,
			slog.String("sender", d.Sender),
			slog.String("recipient", d.Recipient),
		)
	} else {
		args = append(args,
			slog.String("sender", logging.AnonymizeEmail(d.Sender)),
			slog.String("recipient", logging.AnonymizeEmail(d.Recipient)),
			slog.String("recipient_domain", ExtractUserDomain(d.Recipient)),
		)
	}
	if d.RunID != "" {
		args = append(args, slog.String(logging.KeyRunID, d.RunID))
	}
	if d.MessageID != "" {
		args = append(args, slog.String("message_id", d.MessageID))
	}
	if d.TraceID != "" {
		args = append(args, slog.String("trace_id", d.TraceID))
	}
	if d.Error != "" {
		args = append(args, slog.String(logging.KeyError, d.Error))
	}
	return args
}

// ToolInvocation captures one MCP tool call.
type ToolInvocation struct {
	Tool      string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// NewToolInvocation starts timing a tool call.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

// Complete stops the timer and records the outcome.
func (ti *ToolInvocation) Complete(err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = err == nil
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error".
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// AuditLogger writes audit events through slog.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger with the given configuration.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With("component", "audit"),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogDispatch logs an email dispatch.
func (al *AuditLogger) LogDispatch(d *Dispatch) {
	if al == nil || !al.enabled {
		return
	}
	if d.Success {
		al.logger.Info("email_dispatched", d.attrs(al.includePII)...)
	} else {
		al.logger.Warn("email_dispatch_failed", d.attrs(al.includePII)...)
	}
}

// LogToolInvocation logs an MCP tool call.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}
	args := []any{
		slog.String("tool", ti.Tool),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.Error != "" {
		args = append(args, slog.String(logging.KeyError, ti.Error))
	}
	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
