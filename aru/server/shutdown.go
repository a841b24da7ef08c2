package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence.
const DefaultShutdownTimeout = 30 * time.Second

// ErrNoServersConfigured indicates WithHTTPServer was never called.
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer()")

type closer struct {
	name string
	fn   func() error
}

// ServerManager starts the HTTP server and shuts it down gracefully, then
// releases every registered dependency in reverse registration order.
type ServerManager struct {
	httpServer         *fiber.App
	httpAddress        string
	telemetry          *opentelemetry.Telemetry
	logger             alog.Logger
	closers            []closer
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
}

// NewServerManager creates a new instance of ServerManager. telemetry may be
// nil; a nil logger is replaced by a no-op one.
func NewServerManager(telemetry *opentelemetry.Telemetry, logger alog.Logger) *ServerManager {
	if logger == nil {
		logger = alog.NewNop()
	}

	return &ServerManager{
		telemetry:       telemetry,
		logger:          logger,
		serversStarted:  make(chan struct{}),
		shutdownTimeout: DefaultShutdownTimeout,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithShutdownChannel replaces OS signal handling with ch. Closing ch starts
// the shutdown sequence.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout sets how long in-flight requests may take to finish.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	if d > 0 {
		sm.shutdownTimeout = d
	}

	return sm
}

// WithCloser registers fn to run after the HTTP server stops. Closers run in
// reverse registration order.
func (sm *ServerManager) WithCloser(name string, fn func() error) *ServerManager {
	if fn != nil {
		sm.closers = append(sm.closers, closer{name: name, fn: fn})
	}

	return sm
}

// ServersStarted returns a channel that is closed once the server goroutine
// has been launched. It does not mean the socket is bound.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

// StartWithGracefulShutdownWithError starts the server and blocks until a
// termination signal, the shutdown channel or a startup failure. The startup
// failure, if any, is returned after shutdown completes.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if sm.httpServer == nil {
		return ErrNoServersConfigured
	}

	sm.startServers()

	return sm.handleShutdown()
}

func (sm *ServerManager) startServers() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sm.reportStartupError(fmt.Errorf("HTTP server panic: %v", r))
			}
		}()

		sm.logger.Log(context.Background(), alog.LevelInfo, "starting HTTP server",
			alog.String("address", sm.httpAddress))

		if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
			sm.reportStartupError(fmt.Errorf("HTTP server: %w", err))
		}
	}()

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) reportStartupError(err error) {
	sm.logger.Log(context.Background(), alog.LevelError, "server error", alog.Err(err))

	select {
	case sm.startupErrors <- err:
	default:
	}
}

func (sm *ServerManager) handleShutdown() error {
	var startupErr error

	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case startupErr = <-sm.startupErrors:
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
		case startupErr = <-sm.startupErrors:
		}

		signal.Stop(c)
	}

	sm.logger.Log(context.Background(), alog.LevelInfo, "gracefully shutting down")

	sm.executeShutdown()

	return startupErr
}

// executeShutdown stops the server, flushes telemetry, runs the closers and
// syncs the logger. Only the first call does anything.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
		defer cancel()

		if sm.httpServer != nil {
			if err := sm.httpServer.ShutdownWithContext(ctx); err != nil {
				sm.logger.Log(ctx, alog.LevelError, "HTTP server shutdown failed", alog.Err(err))
			}
		}

		for i := len(sm.closers) - 1; i >= 0; i-- {
			c := sm.closers[i]
			if err := c.fn(); err != nil {
				sm.logger.Log(ctx, alog.LevelError, "closer failed",
					alog.String("name", c.name), alog.Err(err))
			}
		}

		if sm.telemetry != nil {
			if err := sm.telemetry.Shutdown(ctx); err != nil {
				sm.logger.Log(ctx, alog.LevelError, "telemetry shutdown failed", alog.Err(err))
			}
		}

		sm.logger.Log(ctx, alog.LevelInfo, "graceful shutdown completed")

		if err := sm.logger.Sync(ctx); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	})
}
