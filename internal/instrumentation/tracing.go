package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for all invoicer spans.
const TracerName = "github.com/teemow/invoicer"

// Span attribute keys.
const (
	SpanAttrTool       = "mcp.tool"
	SpanAttrService    = "google.service"
	SpanAttrOperation  = "google.operation"
	SpanAttrStage      = "invoice.stage"
	SpanAttrRunID      = "invoice.run_id"
	SpanAttrDocumentID = "invoice.document_id"
)

// StartRunSpan starts the root span of a pipeline run.
func StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if runID != "" {
		attrs = append(attrs, attribute.String(SpanAttrRunID, runID))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "invoice.run",
		trace.WithAttributes(attrs...),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "invoice.stage."+stage,
		trace.WithAttributes(attribute.String(SpanAttrStage, stage)),
	)
}

// StartToolSpan starts a span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "tool."+toolName,
		trace.WithAttributes(attribute.String(SpanAttrTool, toolName)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartGoogleAPISpan starts a client span for a Google API operation.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// DocumentAttr tags a span with the document it operates on.
func DocumentAttr(id string) attribute.KeyValue {
	return attribute.String(SpanAttrDocumentID, id)
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the current span in context, or "".
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
