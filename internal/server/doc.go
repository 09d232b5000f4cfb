// Package server exposes the process's Prometheus metrics and health probes
// on a dedicated HTTP port while the MCP server talks over stdio.
//
// Endpoints:
//   - /metrics: the instrumentation provider's Prometheus registry
//   - /healthz: liveness
//   - /readyz: readiness, failing once shutdown starts
package server
