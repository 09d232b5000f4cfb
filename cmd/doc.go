// Package cmd implements the command-line interface for invoicer.
//
// This package provides the following commands:
//   - run: Create, export, save and email today's invoice
//   - auth: Run the OAuth authorization flow and store the token
//   - history: List recorded runs from the ledger
//   - serve: Start the MCP server on stdio
//   - version: Display version information
//
// The run command is the default command when no subcommand is specified.
package cmd
