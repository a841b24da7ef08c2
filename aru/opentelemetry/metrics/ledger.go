package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// Ledger instruments.
var (
	MetricTransfersCommitted = Metric{
		Name:        "aru_transfers_total",
		Unit:        "1",
		Description: "Number of committed single transfers.",
	}

	MetricBatchTransfersCommitted = Metric{
		Name:        "aru_batch_transfers_total",
		Unit:        "1",
		Description: "Number of committed batch transfers.",
	}

	MetricTransfersRejected = Metric{
		Name:        "aru_transfers_rejected_total",
		Unit:        "1",
		Description: "Number of transfers and batches rejected by validation.",
	}

	MetricUnitsTransferred = Metric{
		Name:        "aru_transferred_units_total",
		Unit:        "{unit}",
		Description: "ARU units moved between accounts.",
	}

	MetricBatchSize = Metric{
		Name:        "aru_batch_recipients",
		Unit:        "{recipient}",
		Description: "Recipients per committed batch.",
		Buckets:     []float64{0, 1, 5, 10, 25, 50, 75, 100},
	}

	MetricAssertionFailed = Metric{
		Name:        "aru_assertion_failed_total",
		Unit:        "1",
		Description: "Number of violated ledger post-conditions.",
	}
)

// RecordTransfer counts one committed transfer of units.
func (f *Factory) RecordTransfer(ctx context.Context, units int64) error {
	committed, err := f.Counter(MetricTransfersCommitted)
	if err != nil {
		return err
	}

	if err := committed.AddOne(ctx); err != nil {
		return err
	}

	return f.recordUnits(ctx, "transfer", units)
}

// RecordBatch counts one committed batch with recipients entries moving units.
func (f *Factory) RecordBatch(ctx context.Context, recipients int, units int64) error {
	committed, err := f.Counter(MetricBatchTransfersCommitted)
	if err != nil {
		return err
	}

	if err := committed.AddOne(ctx); err != nil {
		return err
	}

	size, err := f.Histogram(MetricBatchSize)
	if err != nil {
		return err
	}

	if err := size.Record(ctx, int64(recipients)); err != nil {
		return err
	}

	return f.recordUnits(ctx, "batch", units)
}

// RecordRejected counts a rejection labelled with the operation and error code.
func (f *Factory) RecordRejected(ctx context.Context, operation, code string) error {
	rejected, err := f.Counter(MetricTransfersRejected)
	if err != nil {
		return err
	}

	return rejected.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("code", code),
	).AddOne(ctx)
}

func (f *Factory) recordUnits(ctx context.Context, operation string, units int64) error {
	moved, err := f.Counter(MetricUnitsTransferred)
	if err != nil {
		return err
	}

	return moved.WithAttributes(attribute.String("operation", operation)).Add(ctx, units)
}
