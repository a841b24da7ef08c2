package aru

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	alog "github.com/impulsar/lib-aru/aru/log"
)

// Balance store backends selectable with BALANCE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const minJWTSecretLength = 32

// Configuration errors.
var (
	ErrUnknownBackend    = errors.New("unknown balance backend")
	ErrMissingBackendDSN = errors.New("balance backend is missing its connection setting")
	ErrWeakJWTSecret     = fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	ErrNegativeSeed      = errors.New("seed balances must not be negative")
	ErrMissingEndpoint   = errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when telemetry is enabled")
)

// Config is the ledgerd process configuration, read from the environment.
type Config struct {
	EnvName         string        `env:"ENV_NAME" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"ledgerd"`
	Version         string        `env:"VERSION" envDefault:"0.0.0"`
	ServerAddress   string        `env:"SERVER_ADDRESS" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	BalanceBackend string `env:"BALANCE_BACKEND" envDefault:"memory"`
	BadgerPath     string `env:"BADGER_PATH"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"ledger.db"`

	PostgresPrimaryDSN string `env:"POSTGRES_PRIMARY_DSN"`
	PostgresReplicaDSN string `env:"POSTGRES_REPLICA_DSN"`
	PostgresDBName     string `env:"POSTGRES_DB_NAME" envDefault:"ledger"`

	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET,required"`
	JWTIssuer string `env:"JWT_ISSUER"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"aru.events"`

	EnableTelemetry bool   `env:"ENABLE_TELEMETRY" envDefault:"false"`
	OtelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// SeedBalances is "account=units,account=units".
	SeedBalances map[string]int64 `env:"SEED_BALANCES" envKeyValSeparator:"="`
}

// LoadConfig reads Config from the process environment and validates it.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

// LoadConfigFrom reads Config from environ instead of the process
// environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return loadConfig(env.Options{Environment: environ})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	c.BalanceBackend = strings.ToLower(strings.TrimSpace(c.BalanceBackend))

	if _, err := alog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch c.BalanceBackend {
	case BackendMemory:
	case BackendBadger:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH", ErrMissingBackendDSN)
		}
	case BackendPostgres:
		if c.PostgresPrimaryDSN == "" {
			return fmt.Errorf("%w: POSTGRES_PRIMARY_DSN", ErrMissingBackendDSN)
		}
	case BackendRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("%w: REDIS_ADDRESS", ErrMissingBackendDSN)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.BalanceBackend)
	}

	if len(c.JWTSecret) < minJWTSecretLength {
		return ErrWeakJWTSecret
	}

	if c.EnableTelemetry && c.OtelEndpoint == "" {
		return ErrMissingEndpoint
	}

	for account, units := range c.SeedBalances {
		if units < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeSeed, account, units)
		}
	}

	return nil
}

// IsProduction reports whether ENV_NAME names a production environment.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.EnvName) {
	case "production", "prod":
		return true
	default:
		return false
	}
}
