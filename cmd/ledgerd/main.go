// Command ledgerd serves the balance ledger over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/auth/jwt"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
	ahttp "github.com/impulsar/lib-aru/aru/net/http"
	"github.com/impulsar/lib-aru/aru/notify"
	"github.com/impulsar/lib-aru/aru/notify/rabbitmq"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
	"github.com/impulsar/lib-aru/aru/server"
	"github.com/impulsar/lib-aru/aru/transfer"
	"github.com/impulsar/lib-aru/aru/zap"
)

const libraryName = "github.com/impulsar/lib-aru"

var errBrokerUnhealthy = errors.New("rabbitmq publisher is not connected")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := aru.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.New(zap.Config{
		Environment:     loggerEnvironment(cfg.EnvName),
		Level:           cfg.LogLevel,
		OTelLibraryName: libraryName,
	})
	if err != nil {
		return err
	}

	telemetry, err := opentelemetry.NewTelemetry(ctx, opentelemetry.TelemetryConfig{
		LibraryName:               libraryName,
		ServiceName:               cfg.ServiceName,
		ServiceVersion:            cfg.Version,
		DeploymentEnv:             cfg.EnvName,
		CollectorExporterEndpoint: cfg.OtelEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
		Logger:                    logger,
	})
	if err != nil {
		return err
	}

	manager := server.NewServerManager(telemetry, logger).WithShutdownTimeout(cfg.ShutdownTimeout)

	store, err := openStore(ctx, cfg, logger, manager)
	if err != nil {
		return errors.Join(err, telemetry.Shutdown(ctx))
	}

	if err := seed(ctx, store.Store, cfg.SeedBalances, logger); err != nil {
		return errors.Join(err, store.close(), telemetry.Shutdown(ctx))
	}

	engine, err := transfer.NewEngine(store.Store,
		transfer.WithLogger(logger),
		transfer.WithTracer(telemetry.Tracer()),
		transfer.WithMetrics(telemetry.MetricsFactory),
	)
	if err != nil {
		return errors.Join(err, store.close(), telemetry.Shutdown(ctx))
	}

	events, brokerChecks, err := eventRegistry(cfg, logger, manager)
	if err != nil {
		return errors.Join(err, store.close(), telemetry.Shutdown(ctx))
	}

	verifier, err := jwt.NewVerifier(jwt.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return errors.Join(err, store.close(), telemetry.Shutdown(ctx))
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		DisableStartupMessage: true,
		ErrorHandler:          ahttp.FiberErrorHandler,
	})

	app.Use(ahttp.WithRequestID())
	app.Use(ahttp.WithTelemetry(telemetry.Tracer()))
	app.Use(ahttp.WithHTTPLogging(logger))

	app.Get("/health", ahttp.Health(append(store.checks, brokerChecks...)...))
	app.Get("/version", ahttp.Version(cfg.Version))

	ahttp.NewLedgerHandler(engine, events, logger).Register(app, verifier)

	logger.Log(ctx, alog.LevelInfo, "ledgerd configured",
		alog.String("backend", cfg.BalanceBackend),
		alog.String("address", cfg.ServerAddress),
		alog.Bool("broker", cfg.RabbitMQURL != ""),
	)

	return manager.WithHTTPServer(app, cfg.ServerAddress).StartWithGracefulShutdownWithError()
}

func loggerEnvironment(name string) zap.Environment {
	switch env := zap.Environment(name); env {
	case zap.EnvironmentProduction, zap.EnvironmentStaging, zap.EnvironmentDevelopment, zap.EnvironmentLocal:
		return env
	default:
		if (aru.Config{EnvName: name}).IsProduction() {
			return zap.EnvironmentProduction
		}

		return zap.EnvironmentDevelopment
	}
}

func seed(ctx context.Context, store balance.Store, seeds map[string]int64, logger alog.Logger) error {
	if len(seeds) == 0 {
		return nil
	}

	typed := make(map[balance.AccountID]int64, len(seeds))
	for account, units := range seeds {
		typed[balance.AccountID(account)] = units
	}

	changed, err := balance.SeedIfZero(ctx, store, typed)
	if err != nil {
		return fmt.Errorf("seed balances: %w", err)
	}

	for _, account := range changed {
		logger.Log(ctx, alog.LevelInfo, "seeded balance",
			alog.String("account", string(account)),
			alog.Int64("units", typed[account]),
		)
	}

	return nil
}

// eventRegistry always logs events and, when a broker is configured, also
// publishes them. The broker connection is closed by manager.
func eventRegistry(
	cfg aru.Config,
	logger alog.Logger,
	manager *server.ServerManager,
) (*notify.Registry, []ahttp.HealthCheck, error) {
	registry := notify.NewRegistry()

	if err := registry.Subscribe("log", notify.LogHandler(logger), transfer.KindTransfer, transfer.KindBatch); err != nil {
		return nil, nil, err
	}

	if cfg.RabbitMQURL == "" {
		return registry, nil, nil
	}

	conn, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := rabbitmq.NewPublisher(conn.Channel, conn.Exchange,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithAutoRecovery(conn.NewChannel),
	)
	if err != nil {
		return nil, nil, errors.Join(err, conn.Close())
	}

	if err := subscribeBroker(registry, publisher, conn.Close, manager); err != nil {
		return nil, nil, err
	}

	return registry, []ahttp.HealthCheck{brokerCheck(publisher)}, nil
}

// subscribeBroker registers publisher for every event kind and hands it and
// its connection to manager. On failure both are closed here instead.
func subscribeBroker(
	registry *notify.Registry,
	publisher *rabbitmq.Publisher,
	closeConn func() error,
	manager *server.ServerManager,
) error {
	if err := registry.Subscribe("rabbitmq", publisher.Handler(), transfer.KindTransfer, transfer.KindBatch); err != nil {
		return errors.Join(err, publisher.Close(), closeConn())
	}

	// Closers run in reverse, so the publisher closes before its connection.
	manager.WithCloser("rabbitmq connection", closeConn)
	manager.WithCloser("rabbitmq publisher", publisher.Close)

	return nil
}

// brokerCheck reports the publisher as unhealthy while its channel is being
// recovered or after recovery gave up.
func brokerCheck(publisher *rabbitmq.Publisher) ahttp.HealthCheck {
	return ahttp.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error {
		if state := publisher.Health(); state != rabbitmq.HealthStateConnected {
			return fmt.Errorf("%w: %s", errBrokerUnhealthy, state)
		}

		return nil
	}}
}
