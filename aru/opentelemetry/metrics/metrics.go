package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	alog "github.com/impulsar/lib-aru/aru/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Factory creates OpenTelemetry instruments once and caches them by name.
type Factory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	histograms sync.Map // string -> metric.Int64Histogram
	logger     alog.Logger
}

var (
	// ErrNilMeter indicates that a nil OTEL meter was provided.
	ErrNilMeter = errors.New("metric meter cannot be nil")
	// ErrNilCounter is returned when a counter builder has no instrument.
	ErrNilCounter = errors.New("counter instrument is nil")
	// ErrNilHistogram is returned when a histogram builder has no instrument.
	ErrNilHistogram = errors.New("histogram instrument is nil")
)

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	Buckets     []float64
}

// NewFactory creates a Factory backed by meter.
func NewFactory(meter metric.Meter, logger alog.Logger) (*Factory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = alog.NewNop()
	}

	return &Factory{meter: meter, logger: logger}, nil
}

// NewNopFactory returns a Factory backed by OpenTelemetry's no-op meter.
func NewNopFactory() *Factory {
	return &Factory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: alog.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns a builder for it.
func (f *Factory) Counter(m Metric) (*CounterBuilder, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		return &CounterBuilder{counter: cached.(metric.Int64Counter)}, nil
	}

	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	counter, err := f.meter.Int64Counter(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), alog.LevelError, "failed to create counter metric",
			alog.String("metric_name", m.Name), alog.Err(err))

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return &CounterBuilder{counter: actual.(metric.Int64Counter)}, nil
}

// Histogram creates or retrieves a histogram and returns a builder for it.
func (f *Factory) Histogram(m Metric) (*HistogramBuilder, error) {
	if cached, ok := f.histograms.Load(m.Name); ok {
		return &HistogramBuilder{histogram: cached.(metric.Int64Histogram)}, nil
	}

	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if m.Buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	histogram, err := f.meter.Int64Histogram(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), alog.LevelError, "failed to create histogram metric",
			alog.String("metric_name", m.Name), alog.Err(err))

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	actual, _ := f.histograms.LoadOrStore(m.Name, histogram)

	return &HistogramBuilder{histogram: actual.(metric.Int64Histogram)}, nil
}

// CounterBuilder records counter increments with optional attributes.
type CounterBuilder struct {
	counter metric.Int64Counter
	attrs   []attribute.KeyValue
}

// WithAttributes returns a builder carrying attrs in addition to the current ones.
func (c *CounterBuilder) WithAttributes(attrs ...attribute.KeyValue) *CounterBuilder {
	merged := make([]attribute.KeyValue, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)

	return &CounterBuilder{counter: c.counter, attrs: merged}
}

// Add records a counter increment.
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c == nil || c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}

// HistogramBuilder records histogram values with optional attributes.
type HistogramBuilder struct {
	histogram metric.Int64Histogram
	attrs     []attribute.KeyValue
}

// WithAttributes returns a builder carrying attrs in addition to the current ones.
func (h *HistogramBuilder) WithAttributes(attrs ...attribute.KeyValue) *HistogramBuilder {
	merged := make([]attribute.KeyValue, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &HistogramBuilder{histogram: h.histogram, attrs: merged}
}

// Record records a histogram value.
func (h *HistogramBuilder) Record(ctx context.Context, value int64) error {
	if h == nil || h.histogram == nil {
		return ErrNilHistogram
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))

	return nil
}
