//go:build unit

package opentelemetry

import (
	"context"
	"errors"
	"testing"

	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTelemetry_NilLogger(t *testing.T) {
	t.Parallel()

	tl, err := NewTelemetry(context.Background(), TelemetryConfig{})
	require.ErrorIs(t, err, ErrNilTelemetryLogger)
	assert.Nil(t, tl)
}

func TestNewTelemetry_EnabledWhitespaceEndpoint(t *testing.T) {
	t.Parallel()

	tl, err := NewTelemetry(context.Background(), TelemetryConfig{
		EnableTelemetry:           true,
		CollectorExporterEndpoint: "   ",
		Logger:                    alog.NewNop(),
	})
	require.ErrorIs(t, err, ErrEmptyEndpoint)
	assert.Nil(t, tl)
}

func TestNewTelemetry_DisabledReturnsLocalProviders(t *testing.T) {
	t.Parallel()

	tl, err := NewTelemetry(context.Background(), TelemetryConfig{
		LibraryName:    "aru-test",
		ServiceName:    "ledgerd",
		ServiceVersion: "0.1.0",
		DeploymentEnv:  "test",
		Logger:         alog.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, tl)
	assert.NotNil(t, tl.TracerProvider)
	assert.NotNil(t, tl.MeterProvider)
	assert.NotNil(t, tl.LoggerProvider)
	assert.NotNil(t, tl.MetricsFactory)
	assert.NotNil(t, tl.Tracer())

	require.NoError(t, tl.Shutdown(context.Background()))
}

func TestShutdown_NilTelemetry(t *testing.T) {
	t.Parallel()

	var tl *Telemetry
	assert.NoError(t, tl.Shutdown(context.Background()))
}

func TestHandleSpanError_RecordsStatusAndEvent(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	HandleSpanError(&span, "store failed", errors.New("boom"))
	HandleSpanBusinessErrorEvent(&span, "transfer.rejected", errors.New("0001: insufficient funds"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "store failed: boom", ended[0].Status().Description)

	names := make([]string, 0, len(ended[0].Events()))
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}

	assert.Contains(t, names, "transfer.rejected")
}

func TestHandleSpanHelpers_NilSpan(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		HandleSpanError(nil, "msg", errors.New("x"))
		HandleSpanBusinessErrorEvent(nil, "ev", errors.New("x"))
		HandleSpanEvent(nil, "ev")
	})
}

func TestPrepareQueueHeaders_InjectsTraceParent(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := PrepareQueueHeaders(ctx, map[string]any{"x-kind": "transfer"})

	assert.Equal(t, "transfer", headers["x-kind"])
	assert.Contains(t, headers, "Traceparent")
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceIDFromContext(ctx))
}

func TestGetTraceIDFromContext_NoSpan(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceIDFromContext(context.Background()))
	assert.Empty(t, GetTraceIDFromContext(trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})))
}
