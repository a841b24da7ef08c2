package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/impulsar/lib-aru/aru/internal/nilcheck"
	"github.com/impulsar/lib-aru/aru/transfer"
)

// Handler handles one committed event.
type Handler func(ctx context.Context, event transfer.Event) error

type namedHandler struct {
	name    string
	handler Handler
}

// Registry stores handlers by event kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[transfer.EventKind][]namedHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[transfer.EventKind][]namedHandler{}}
}

// Register adds handler for kind under name. Handlers of one kind run in
// registration order.
func (registry *Registry) Register(kind transfer.EventKind, name string, handler Handler) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	normalizedKind := transfer.EventKind(strings.TrimSpace(string(kind)))
	if normalizedKind == "" {
		return ErrEventKindRequired
	}

	normalizedName := strings.TrimSpace(name)
	if normalizedName == "" {
		return ErrHandlerNameRequired
	}

	if handler == nil {
		return ErrHandlerRequired
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.handlers == nil {
		registry.handlers = make(map[transfer.EventKind][]namedHandler)
	}

	for _, existing := range registry.handlers[normalizedKind] {
		if existing.name == normalizedName {
			return fmt.Errorf("%w: %s/%s", ErrHandlerAlreadyRegistered, normalizedKind, normalizedName)
		}
	}

	registry.handlers[normalizedKind] = append(registry.handlers[normalizedKind], namedHandler{
		name:    normalizedName,
		handler: handler,
	})

	return nil
}

// Subscribe registers handler under name for every given kind.
func (registry *Registry) Subscribe(name string, handler Handler, kinds ...transfer.EventKind) error {
	for _, kind := range kinds {
		if err := registry.Register(kind, name, handler); err != nil {
			return err
		}
	}

	return nil
}

// Dispatch runs every handler registered for each event's kind. All handlers
// run even when some fail; their errors are joined. Events without a
// handler are dropped.
func (registry *Registry) Dispatch(ctx context.Context, events ...transfer.Event) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	var errs []error

	for _, event := range events {
		if nilcheck.Interface(event) {
			errs = append(errs, ErrEventRequired)

			continue
		}

		registry.mu.RLock()
		handlers := append([]namedHandler(nil), registry.handlers[event.Kind()]...)
		registry.mu.RUnlock()

		for _, h := range handlers {
			if err := h.handler(ctx, event); err != nil {
				errs = append(errs, fmt.Errorf("%s handler %q: %w", event.Kind(), h.name, err))
			}
		}
	}

	return errors.Join(errs...)
}
