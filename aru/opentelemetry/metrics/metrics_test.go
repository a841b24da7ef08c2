//go:build unit

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestFactory(t *testing.T) (*Factory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	factory, err := NewFactory(mp.Meter("aru-test"), nil)
	require.NoError(t, err)

	return factory, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewFactoryRejectsNilMeter(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(nil, nil)
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestCounterIsCached(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)
	ctx := context.Background()

	first, err := factory.Counter(MetricTransfersCommitted)
	require.NoError(t, err)
	second, err := factory.Counter(MetricTransfersCommitted)
	require.NoError(t, err)

	require.NoError(t, first.AddOne(ctx))
	require.NoError(t, second.Add(ctx, 2))

	assert.Equal(t, int64(3), sumOf(t, findMetric(collect(t, reader), MetricTransfersCommitted.Name)))
}

func TestRecordTransferAndBatch(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)
	ctx := context.Background()

	require.NoError(t, factory.RecordTransfer(ctx, 30))
	require.NoError(t, factory.RecordBatch(ctx, 2, 50))

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, MetricTransfersCommitted.Name)))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, MetricBatchTransfersCommitted.Name)))
	assert.Equal(t, int64(80), sumOf(t, findMetric(rm, MetricUnitsTransferred.Name)))

	hist := findMetric(rm, MetricBatchSize.Name)
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(2), data.DataPoints[0].Sum)
}

func TestRecordRejectedCarriesCode(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)

	require.NoError(t, factory.RecordRejected(context.Background(), "transfer", "0001"))

	m := findMetric(collect(t, reader), MetricTransfersRejected.Name)
	require.NotNil(t, m)

	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)

	code, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("code"))
	require.True(t, ok)
	assert.Equal(t, "0001", code.AsString())
}

func TestNilBuildersReturnErrors(t *testing.T) {
	t.Parallel()

	var c *CounterBuilder
	var h *HistogramBuilder

	assert.ErrorIs(t, c.AddOne(context.Background()), ErrNilCounter)
	assert.ErrorIs(t, h.Record(context.Background(), 1), ErrNilHistogram)
}

func TestNopFactory(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	assert.NoError(t, factory.RecordTransfer(context.Background(), 1))
	assert.NoError(t, factory.RecordRejected(context.Background(), "batch", "0003"))
}
