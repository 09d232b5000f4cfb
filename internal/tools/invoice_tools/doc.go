// Package invoice_tools exposes the invoice pipeline as MCP tools.
//
// Two tools are registered:
//   - invoice_run: produce today's invoice and optionally email it
//   - invoice_history: list recorded runs from the ledger
//
// The stdio transport owns stdin, so the tools never prompt. Sending must be
// acknowledged explicitly with confirm=true.
package invoice_tools
