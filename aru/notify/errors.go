package notify

import "errors"

var (
	// ErrRegistryRequired is returned when a nil Registry is used.
	ErrRegistryRequired = errors.New("notify registry is required")
	// ErrEventKindRequired is returned when a handler is registered without a kind.
	ErrEventKindRequired = errors.New("event kind is required")
	// ErrHandlerNameRequired is returned when a handler is registered without a name.
	ErrHandlerNameRequired = errors.New("handler name is required")
	// ErrHandlerRequired is returned when a nil handler is registered.
	ErrHandlerRequired = errors.New("event handler is required")
	// ErrHandlerAlreadyRegistered is returned for a duplicate kind and name pair.
	ErrHandlerAlreadyRegistered = errors.New("event handler already registered")
	// ErrEventRequired is returned when Dispatch receives a nil event.
	ErrEventRequired = errors.New("event is required")
)
