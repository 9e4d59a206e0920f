// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for the edge
// proxy.
//
// It owns the metrics registry served on the admin listener, the process-wide tracer
// provider setup, and helpers that annotate request spans with routing and access
// decisions so operators can correlate rejections with upstream behaviour.
package telemetry
