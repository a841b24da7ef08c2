package notify

import (
	"context"

	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/transfer"
)

// LogHandler writes every event to logger at info level.
func LogHandler(logger alog.Logger) Handler {
	if logger == nil {
		logger = alog.NewNop()
	}

	return func(ctx context.Context, event transfer.Event) error {
		fields := []alog.Field{alog.String("kind", string(event.Kind()))}

		switch e := event.(type) {
		case transfer.TransferEvent:
			fields = append(fields,
				alog.String("source", e.Source.String()),
				alog.String("destination", e.Destination.String()),
				alog.Int64("amount", e.Amount),
				alog.Any("timestamp", e.Timestamp),
			)
		case transfer.BatchEvent:
			fields = append(fields,
				alog.String("source", e.Source.String()),
				alog.Any("recipient_count", e.RecipientCount),
				alog.Int64("total_amount", e.TotalAmount),
				alog.Any("timestamp", e.Timestamp),
			)
		}

		logger.Log(ctx, alog.LevelInfo, "event emitted", fields...)

		return nil
	}
}
