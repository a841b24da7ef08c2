//go:build unit

package aru

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFrom_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{"JWT_SECRET": testJWTSecret})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.BalanceBackend)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "aru.events", cfg.RabbitMQExchange)
	assert.False(t, cfg.EnableTelemetry)
	assert.Empty(t, cfg.SeedBalances)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFrom_SeedBalances(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(map[string]string{
		"JWT_SECRET":      testJWTSecret,
		"BALANCE_BACKEND": " Redis ",
		"SEED_BALANCES":   "alice=100,bob=0",
		"ENV_NAME":        "production",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.BalanceBackend)
	assert.Equal(t, map[string]int64{"alice": 100, "bob": 0}, cfg.SeedBalances)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigFrom_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		environ map[string]string
		wantErr error
	}{
		{"weak secret", map[string]string{"JWT_SECRET": "short"}, ErrWeakJWTSecret},
		{"unknown backend", map[string]string{"JWT_SECRET": testJWTSecret, "BALANCE_BACKEND": "mongo"}, ErrUnknownBackend},
		{"postgres without dsn", map[string]string{"JWT_SECRET": testJWTSecret, "BALANCE_BACKEND": "postgres"}, ErrMissingBackendDSN},
		{"telemetry without endpoint", map[string]string{"JWT_SECRET": testJWTSecret, "ENABLE_TELEMETRY": "true"}, ErrMissingEndpoint},
		{"negative seed", map[string]string{"JWT_SECRET": testJWTSecret, "SEED_BALANCES": "alice=-1"}, ErrNegativeSeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfigFrom(tt.environ)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigFrom_ParseErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFrom(map[string]string{})
	require.Error(t, err, "JWT_SECRET is required")

	_, err = LoadConfigFrom(map[string]string{"JWT_SECRET": testJWTSecret, "SEED_BALANCES": "alice=lots"})
	require.Error(t, err)

	_, err = LoadConfigFrom(map[string]string{"JWT_SECRET": testJWTSecret, "LOG_LEVEL": "loud"})
	require.Error(t, err)
}
