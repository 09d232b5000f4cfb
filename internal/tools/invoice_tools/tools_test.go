package invoice_tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/teemow/invoicer/internal/app"
	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/ledger"
	"github.com/teemow/invoicer/internal/pipeline"
)

type fakeInvoicer struct {
	gotOpts  app.RunOptions
	result   *app.Result
	runErr   error
	gotLimit int
	runs     []ledger.Run
	histErr  error
}

func (f *fakeInvoicer) RunInvoice(_ context.Context, opts app.RunOptions) (*app.Result, error) {
	f.gotOpts = opts
	return f.result, f.runErr
}

func (f *fakeInvoicer) History(_ context.Context, limit int) ([]ledger.Run, error) {
	f.gotLimit = limit
	return f.runs, f.histErr
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func sampleResult(sent bool) *app.Result {
	res := &app.Result{
		Artifact: &pipeline.Artifact{
			Bytes:    []byte("%PDF-1.4"),
			Document: drive.DocumentRef{ID: "C1", Name: "Invoice-2024-01-15"},
			Path:     "scratch/invoices/Invoice-2024-01-15",
			RunID:    "run-1",
			Pages:    1,
		},
		Recipient: "billing@example.com",
	}
	if sent {
		res.Sent = true
		res.MessageID = "msg-1"
	}
	return res
}

func TestRegisterInvoiceTools(t *testing.T) {
	s := mcpserver.NewMCPServer("invoicer", "test", mcpserver.WithToolCapabilities(true))
	RegisterInvoiceTools(s, &fakeInvoicer{}, nil, nil)

	tools := s.ListTools()
	assert.Contains(t, tools, "invoice_run")
	assert.Contains(t, tools, "invoice_history")
}

func TestInstrumented_IsAnMCPHandler(t *testing.T) {
	var h mcpserver.ToolHandlerFunc = Instrumented("invoice_history", nil, nil, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	s := mcpserver.NewMCPServer("invoicer", "test", mcpserver.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("echo"), h)
	assert.Contains(t, s.ListTools(), "echo")
}

func TestHandleRun(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		result    *app.Result
		runErr    error
		wantError bool
		wantText  string
		wantOpts  app.RunOptions
		wantCall  bool
	}{
		{
			name:     "no send",
			args:     map[string]any{},
			result:   sampleResult(false),
			wantText: `"path": "scratch/invoices/Invoice-2024-01-15"`,
			wantCall: true,
		},
		{
			name:     "send with confirm",
			args:     map[string]any{"send": true, "confirm": true},
			result:   sampleResult(true),
			wantText: `"message_id": "msg-1"`,
			wantOpts: app.RunOptions{Send: true, AssumeYes: true},
			wantCall: true,
		},
		{
			name:      "send without confirm",
			args:      map[string]any{"send": true},
			wantError: true,
			wantText:  "confirm=true",
		},
		{
			name:      "pipeline failure",
			args:      map[string]any{},
			runErr:    errors.New("template not found"),
			wantError: true,
			wantText:  "template not found",
			wantCall:  true,
		},
		{
			name:      "saved but not sent",
			args:      map[string]any{"send": true, "confirm": true},
			result:    sampleResult(false),
			runErr:    errors.New("invoice saved to x but not sent: boom"),
			wantError: true,
			wantText:  `"run_id": "run-1"`,
			wantOpts:  app.RunOptions{Send: true, AssumeYes: true},
			wantCall:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoicer{result: tt.result, runErr: tt.runErr}
			res, err := handleRun(context.Background(), callRequest("invoice_run", tt.args), inv)
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, res.IsError)
			assert.Contains(t, text(t, res), tt.wantText)
			if tt.wantCall {
				assert.Equal(t, tt.wantOpts, inv.gotOpts)
			}
		})
	}
}

func TestHandleRun_Payload(t *testing.T) {
	inv := &fakeInvoicer{result: sampleResult(true)}
	res, err := handleRun(context.Background(), callRequest("invoice_run", map[string]any{"send": true, "confirm": true}), inv)
	require.NoError(t, err)

	var out RunResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, RunResult{
		RunID:        "run-1",
		DocumentID:   "C1",
		DocumentName: "Invoice-2024-01-15",
		Path:         "scratch/invoices/Invoice-2024-01-15",
		Size:         8,
		Pages:        1,
		Recipient:    "billing@example.com",
		Sent:         true,
		MessageID:    "msg-1",
	}, out)
}

func TestHandleHistory(t *testing.T) {
	started := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	inv := &fakeInvoicer{runs: []ledger.Run{
		{ID: "b", Date: "2024-01-15", Status: ledger.StatusFailed, Stage: "export", CopyID: "C2", StartedAt: started},
		{ID: "a", Date: "2024-01-14", Status: ledger.StatusSent, MessageID: "msg-1", StartedAt: started.Add(-24 * time.Hour)},
	}}

	res, err := handleHistory(context.Background(), callRequest("invoice_history", map[string]any{}), inv)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, DefaultHistoryLimit, inv.gotLimit)

	var entries []HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &entries))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Orphaned)
	assert.False(t, entries[1].Orphaned)
	assert.Equal(t, "2024-01-15T09:00:00Z", entries[0].StartedAt)

	_, err = handleHistory(context.Background(), callRequest("invoice_history", map[string]any{"limit": float64(5000)}), inv)
	require.NoError(t, err)
	assert.Equal(t, MaxHistoryLimit, inv.gotLimit)

	_, err = handleHistory(context.Background(), callRequest("invoice_history", map[string]any{"limit": float64(3)}), inv)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.gotLimit)
}

func TestHandleHistory_Error(t *testing.T) {
	inv := &fakeInvoicer{histErr: errors.New("run history is disabled")}
	res, err := handleHistory(context.Background(), callRequest("invoice_history", nil), inv)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "disabled")
}

func TestInstrumented(t *testing.T) {
	metrics, err := instrumentation.NewMetrics(noop.NewMeterProvider().Meter("test"), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), instrumentation.AuditLoggingConfig{Enabled: true})

	ok := Instrumented("invoice_run", metrics, audit, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("done"), nil
	})
	res, err := ok(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", text(t, res))
	assert.Contains(t, buf.String(), `"msg":"tool_executed"`)

	buf.Reset()
	failed := Instrumented("invoice_run", metrics, audit, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("sending requires confirm=true"), nil
	})
	res, err = failed(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, buf.String(), `"msg":"tool_failed"`)
	assert.Contains(t, buf.String(), "sending requires confirm=true")
}

func TestInstrumented_NoInstrumentation(t *testing.T) {
	want := errors.New("boom")
	h := Instrumented("invoice_history", nil, nil, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, want
	})
	_, err := h(context.Background(), mcp.CallToolRequest{})
	assert.ErrorIs(t, err, want)
}
