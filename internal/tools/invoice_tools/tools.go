package invoice_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/invoicer/internal/app"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/ledger"
)

const (
	// DefaultHistoryLimit is the number of runs invoice_history returns
	// when no limit is given.
	DefaultHistoryLimit = 10

	// MaxHistoryLimit caps the limit argument.
	MaxHistoryLimit = 200
)

// Invoicer is the part of app.App the tools call.
type Invoicer interface {
	RunInvoice(ctx context.Context, opts app.RunOptions) (*app.Result, error)
	History(ctx context.Context, limit int) ([]ledger.Run, error)
}

// RunResult is the JSON payload of invoice_run.
type RunResult struct {
	RunID        string `json:"run_id"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	DocumentLink string `json:"document_link,omitempty"`
	Path         string `json:"path"`
	Size         int    `json:"size"`
	Pages        int    `json:"pages,omitempty"`
	ArchiveURL   string `json:"archive_url,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	Sent         bool   `json:"sent"`
	MessageID    string `json:"message_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HistoryEntry is one element of the invoice_history payload.
type HistoryEntry struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	CopyID    string `json:"copy_id,omitempty"`
	CopyName  string `json:"copy_name,omitempty"`
	Path      string `json:"path,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Orphaned  bool   `json:"orphaned,omitempty"`
	StartedAt string `json:"started_at"`
}

// RegisterInvoiceTools registers invoice_run and invoice_history on s.
func RegisterInvoiceTools(s *mcpserver.MCPServer, inv Invoicer, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) {
	runTool := mcp.NewTool("invoice_run",
		mcp.WithDescription("Create today's invoice from the template spreadsheet, export it as PDF and optionally email it"),
		mcp.WithBoolean("send",
			mcp.Description("Email the invoice to the configured recipient (default: false)"),
		),
		mcp.WithBoolean("confirm",
			mcp.Description("Must be true when send is true; acknowledges that an email will be sent"),
		),
	)
	s.AddTool(runTool, Instrumented("invoice_run", metrics, audit, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRun(ctx, request, inv)
	}))

	historyTool := mcp.NewTool("invoice_history",
		mcp.WithDescription("List recorded invoice runs, newest first"),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of runs to return (default: %d, max: %d)", DefaultHistoryLimit, MaxHistoryLimit)),
		),
	)
	s.AddTool(historyTool, Instrumented("invoice_history", metrics, audit, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleHistory(ctx, request, inv)
	}))
}

func handleRun(ctx context.Context, request mcp.CallToolRequest, inv Invoicer) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	send, _ := args["send"].(bool)
	confirm, _ := args["confirm"].(bool)
	if send && !confirm {
		return mcp.NewToolResultError("sending requires confirm=true"), nil
	}

	res, err := inv.RunInvoice(ctx, app.RunOptions{Send: send, AssumeYes: confirm})
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invoice run failed: %v", err)), nil
	}

	out := newRunResult(res)
	if err != nil {
		// The invoice exists locally; report it alongside the failure.
		out.Error = err.Error()
		payload, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultError(string(payload)), nil
	}

	payload, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(payload)), nil
}

func newRunResult(res *app.Result) RunResult {
	out := RunResult{
		Recipient: res.Recipient,
		Sent:      res.Sent,
		MessageID: res.MessageID,
	}
	if art := res.Artifact; art != nil {
		out.RunID = art.RunID
		out.DocumentID = art.Document.ID
		out.DocumentName = art.Document.Name
		out.DocumentLink = art.Document.WebViewLink
		out.Path = art.Path
		out.Size = len(art.Bytes)
		out.Pages = art.Pages
		out.ArchiveURL = art.ArchiveURL
	}
	return out
}

func handleHistory(ctx context.Context, request mcp.CallToolRequest, inv Invoicer) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	limit := DefaultHistoryLimit
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	runs, err := inv.History(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}

	entries := make([]HistoryEntry, 0, len(runs))
	for _, r := range runs {
		entries = append(entries, HistoryEntry{
			ID:        r.ID,
			Date:      r.Date,
			Status:    string(r.Status),
			Stage:     r.Stage,
			CopyID:    r.CopyID,
			CopyName:  r.CopyName,
			Path:      r.Path,
			MessageID: r.MessageID,
			Error:     r.Error,
			Orphaned:  r.Orphaned(),
			StartedAt: r.StartedAt.Format(time.RFC3339),
		})
	}

	payload, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(payload)), nil
}
