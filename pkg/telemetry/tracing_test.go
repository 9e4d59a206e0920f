package telemetry

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-edge/pkg/domain"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestRequestSpan_Attributes(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartRequestSpan(context.Background(), http.MethodGet, "/api/x")
	assert.NotEmpty(t, TraceID(ctx))
	RecordRoute(span, 2, "/api/*", "up.test")
	RecordSecurityEvent(span, domain.CodeHotlinkForbidden)
	RecordOutcome(span, domain.OutcomeForwardFailed, http.StatusInternalServerError)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "edge.handle", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Contains(t, got.Attributes(), attribute.String("edge.outcome", "forward_failed"))
	assert.Contains(t, got.Attributes(), attribute.Int("edge.rule.index", 2))
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "security.event", got.Events()[0].Name)
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestSetupProvider_NoEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		Environment:  "staging",
		ResourceTags: map[string]string{"region": "eu-west-1"},
	})
	require.NoError(t, err)

	values := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		values[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, DefaultServiceName, values["service.name"])
	assert.Equal(t, "staging", values["deployment.environment"])
	assert.Equal(t, "eu-west-1", values["region"])
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(Config{Endpoint: "collector:4317", Insecure: true}), 3)
	assert.Len(t, exporterOptions(Config{Endpoint: "collector:4317", Headers: map[string]string{"a": "b"}}), 4)
}
