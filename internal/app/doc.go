// Package app wires the invoicer components from a single configuration
// value and runs the end-to-end invoice flow used by the CLI and the MCP
// tools.
package app
