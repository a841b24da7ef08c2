package aru

import (
	"context"
	"strings"

	"github.com/google/uuid"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracerName names the tracer used when none is stored in the context.
const DefaultTracerName = "aru.default"

type trackingKey struct{}

// Tracking holds the request-scoped facilities attached to a context.
type Tracking struct {
	RequestID     string
	Tracer        trace.Tracer
	Logger        alog.Logger
	MetricFactory *metrics.Factory
}

func trackingFrom(ctx context.Context) Tracking {
	if ctx == nil {
		return Tracking{}
	}

	if values, ok := ctx.Value(trackingKey{}).(Tracking); ok {
		return values
	}

	return Tracking{}
}

func withTracking(ctx context.Context, mutate func(*Tracking)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	values := trackingFrom(ctx)
	mutate(&values)

	return context.WithValue(ctx, trackingKey{}, values)
}

// ContextWithLogger returns a copy of ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger alog.Logger) context.Context {
	return withTracking(ctx, func(t *Tracking) { t.Logger = logger })
}

// ContextWithTracer returns a copy of ctx carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return withTracking(ctx, func(t *Tracking) { t.Tracer = tracer })
}

// ContextWithMetricFactory returns a copy of ctx carrying factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.Factory) context.Context {
	return withTracking(ctx, func(t *Tracking) { t.MetricFactory = factory })
}

// ContextWithRequestID returns a copy of ctx carrying the correlation id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return withTracking(ctx, func(t *Tracking) { t.RequestID = requestID })
}

// NewLoggerFromContext returns the logger stored in ctx, or a no-op logger.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) alog.Logger {
	if logger := trackingFrom(ctx).Logger; logger != nil {
		return logger
	}

	return alog.NewNop()
}

// RequestIDFromContext returns the stored correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return trackingFrom(ctx).RequestID
}

// NewTrackingFromContext resolves every tracking component from ctx, filling
// gaps with a no-op logger, the global tracer, a fresh request id and a
// factory on the global meter provider.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (alog.Logger, trace.Tracer, string, *metrics.Factory) {
	values := trackingFrom(ctx)

	logger := values.Logger
	if logger == nil {
		logger = alog.NewNop()
	}

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer(DefaultTracerName)
	}

	requestID := strings.TrimSpace(values.RequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	factory := values.MetricFactory
	if factory == nil {
		var err error

		factory, err = metrics.NewFactory(otel.GetMeterProvider().Meter(DefaultTracerName), logger)
		if err != nil {
			factory = metrics.NewNopFactory()
		}
	}

	return logger, tracer, requestID, factory
}
