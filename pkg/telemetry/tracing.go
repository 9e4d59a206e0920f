package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-edge/pkg/domain"
)

const tracerName = "github.com/polisai/polis-edge"

// StartRequestSpan opens the span covering one request's handling.
func StartRequestSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "edge.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
}

// RecordOutcome annotates span with the terminal state and final status code.
func RecordOutcome(span trace.Span, outcome domain.Outcome, statusCode int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("edge.outcome", string(outcome)),
		attribute.Int("http.response.status_code", statusCode),
	)
	if outcome == domain.OutcomeForwardFailed {
		span.SetStatus(codes.Error, "upstream failure")
	}
}

// RecordRoute attaches the resolved rule to span.
func RecordRoute(span trace.Span, ruleIndex int, source, upstreamHost string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int("edge.rule.index", ruleIndex),
		attribute.String("edge.rule.source", source),
		attribute.String("server.address", upstreamHost),
	)
}

// RecordSecurityEvent attaches a coarse-grained rejection event to span without the
// request's header values.
func RecordSecurityEvent(span trace.Span, code string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("security.event", trace.WithAttributes(
		attribute.Bool("security.blocked", true),
		attribute.String("security.block_reason", code),
	))
}

// TraceID returns the active trace identifier, or "" outside a sampled span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
