package invoice_tools

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/invoicer/internal/instrumentation"
)

// ToolHandler is the mcp-go tool handler signature.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Instrumented wraps a tool handler with a span, the tool invocation metric
// and an audit record.
//
// Usage:
//
//	s.AddTool(tool, Instrumented("invoice_run", metrics, audit, handler))
func Instrumented(toolName string, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if metrics == nil && audit == nil {
			return handler(ctx, request)
		}

		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName)

		result, err := handler(ctx, request)

		outcome := err
		if outcome == nil && result != nil && result.IsError {
			outcome = errors.New(resultText(result))
		}
		invocation.Complete(outcome)
		instrumentation.EndSpan(span, outcome)

		if metrics != nil {
			metrics.RecordToolInvocation(ctx, toolName, invocation.Status(), time.Since(start))
		}
		audit.LogToolInvocation(invocation)

		return result, err
	}
}

// resultText returns the first text content of result.
func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool returned an error"
}
