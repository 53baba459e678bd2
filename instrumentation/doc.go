// Package instrumentation provides OpenTelemetry tracing and metrics for the
// Galaxy OAuth provider and the MCP tool layer.
//
// When Config.Enabled is false every tracer and meter is a no-op, so callers can
// record unconditionally:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "galaxy-mcp",
//		ServiceVersion: version,
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
// Exporters are attached through Config.SpanProcessors and Config.MetricReaders,
// which is also how tests observe spans (tracetest.SpanRecorder) and metrics
// (sdkmetric.ManualReader).
//
// Never put tokens, authorization codes, API keys or passwords into span
// attributes or metric labels. Only metadata such as client ids, grant types and
// results belongs there.
package instrumentation
