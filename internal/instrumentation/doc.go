// Package instrumentation provides OpenTelemetry metrics and tracing for invoicer.
//
// # Metrics
//
// Google API:
//   - google_api_operations_total: operations by service, operation, status
//   - google_api_operation_duration_seconds: operation latency
//
// OAuth:
//   - oauth_auth_total: bootstrap attempts by result
//   - oauth_token_refresh_total: refresh attempts by result
//
// Pipeline:
//   - pipeline_runs_total: runs by result (success, failure, partial)
//   - pipeline_stage_duration_seconds: stage latency by stage and status
//   - invoice_emails_sent_total: dispatched emails by status
//
// MCP:
//   - mcp_tool_invocations_total and mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for the run (invoice.run), each stage
// (invoice.stage.<name>), Google API calls (google.<service>.<operation>) and
// MCP tools (tool.<name>).
//
// # Configuration
//
// Instrumentation is configured from the environment:
//   - INSTRUMENTATION_ENABLED: enable metrics and tracing (default: false)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate (default: 1.0)
//   - PUSHGATEWAY_URL: push run metrics to a Prometheus Pushgateway at exit
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII: audit trail controls
//
// Because a run is a short-lived batch job, the Prometheus exporter writes to
// a registry owned by the Provider; Provider.Push sends it to the Pushgateway
// and Provider.PrometheusHandler serves it for the long-running serve command.
package instrumentation
