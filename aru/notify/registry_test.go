//go:build unit

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	transferEvent = transfer.TransferEvent{Source: "alice", Destination: "bob", Amount: 30, Timestamp: 1}
	batchEvent    = transfer.BatchEvent{Source: "distributor", RecipientCount: 2, TotalAmount: 100, Timestamp: 2}
)

func TestRegistry_RegisterAndDispatch(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	var seen []transfer.Event

	require.NoError(t, registry.Register(transfer.KindTransfer, "collector", func(_ context.Context, event transfer.Event) error {
		seen = append(seen, event)
		return nil
	}))

	require.NoError(t, registry.Dispatch(context.Background(), transferEvent, batchEvent))
	assert.Equal(t, []transfer.Event{transferEvent}, seen)
}

func TestRegistry_HandlersRunInRegistrationOrder(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	var order []string

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, registry.Register(transfer.KindBatch, name, func(context.Context, transfer.Event) error {
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, registry.Dispatch(context.Background(), batchEvent))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, transfer.Event) error { return nil }

	var nilRegistry *Registry
	require.ErrorIs(t, nilRegistry.Register(transfer.KindTransfer, "x", noop), ErrRegistryRequired)

	registry := NewRegistry()
	require.ErrorIs(t, registry.Register("  ", "x", noop), ErrEventKindRequired)
	require.ErrorIs(t, registry.Register(transfer.KindTransfer, " ", noop), ErrHandlerNameRequired)
	require.ErrorIs(t, registry.Register(transfer.KindTransfer, "x", nil), ErrHandlerRequired)

	require.NoError(t, registry.Register(transfer.KindTransfer, "x", noop))
	require.ErrorIs(t, registry.Register(transfer.KindTransfer, " x ", noop), ErrHandlerAlreadyRegistered)
	require.NoError(t, registry.Register(transfer.KindBatch, "x", noop))
}

func TestRegistry_SubscribeManyKinds(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	var mu sync.Mutex

	kinds := map[transfer.EventKind]int{}

	require.NoError(t, registry.Subscribe("counter", func(_ context.Context, event transfer.Event) error {
		mu.Lock()
		defer mu.Unlock()

		kinds[event.Kind()]++

		return nil
	}, transfer.KindTransfer, transfer.KindBatch))

	require.NoError(t, registry.Dispatch(context.Background(), transferEvent, batchEvent, transferEvent))
	assert.Equal(t, map[transfer.EventKind]int{transfer.KindTransfer: 2, transfer.KindBatch: 1}, kinds)
}

func TestRegistry_DispatchJoinsErrors(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	brokerDown := errors.New("broker down")
	ran := false

	require.NoError(t, registry.Register(transfer.KindTransfer, "broker", func(context.Context, transfer.Event) error {
		return brokerDown
	}))
	require.NoError(t, registry.Register(transfer.KindTransfer, "audit", func(context.Context, transfer.Event) error {
		ran = true
		return nil
	}))

	err := registry.Dispatch(context.Background(), transferEvent, nil)
	require.ErrorIs(t, err, brokerDown)
	require.ErrorIs(t, err, ErrEventRequired)
	assert.Contains(t, err.Error(), `transfer handler "broker"`)
	assert.True(t, ran)
}

func TestRegistry_DispatchNilRegistry(t *testing.T) {
	t.Parallel()

	var registry *Registry
	assert.ErrorIs(t, registry.Dispatch(context.Background(), transferEvent), ErrRegistryRequired)
}

type capturedEntry struct {
	msg    string
	fields []alog.Field
}

type capturingLogger struct {
	alog.NopLogger
	mu      sync.Mutex
	entries []capturedEntry
}

func (c *capturingLogger) Log(_ context.Context, _ alog.Level, msg string, fields ...alog.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, capturedEntry{msg: msg, fields: fields})
}

func TestLogHandler(t *testing.T) {
	t.Parallel()

	logger := &capturingLogger{}
	handler := LogHandler(logger)

	require.NoError(t, handler(context.Background(), transferEvent))
	require.NoError(t, handler(context.Background(), batchEvent))

	require.Len(t, logger.entries, 2)
	assert.Equal(t, "event emitted", logger.entries[0].msg)
	assert.Contains(t, logger.entries[0].fields, alog.String("destination", "bob"))
	assert.Contains(t, logger.entries[1].fields, alog.Int64("total_amount", 100))
}

func TestLogHandlerNilLogger(t *testing.T) {
	t.Parallel()

	assert.NoError(t, LogHandler(nil)(context.Background(), transferEvent))
}
