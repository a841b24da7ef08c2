//go:build integration

package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/balance/balancetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return dsn
}

func TestIntegration_PostgresStoreContract(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	client, err := New(Config{PrimaryDSN: dsn, DBName: "ledger"})
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))

	t.Cleanup(func() { _ = client.Close() })

	db, err := client.Resolver()
	require.NoError(t, err)

	balancetest.Run(t, func(t *testing.T) balance.Store {
		_, err := db.ExecContext(ctx, `TRUNCATE balances`)
		require.NoError(t, err)

		store, err := NewStore(client)
		require.NoError(t, err)

		return store
	})
}

func TestIntegration_PostgresReconnectSkipsAppliedMigrations(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	client, err := New(Config{PrimaryDSN: dsn, DBName: "ledger"})
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Close())
}

func TestIntegration_PostgresGetReadsPrimary(t *testing.T) {
	dsn := setupPostgresContainer(t)
	ctx := context.Background()

	// An unmigrated database stands in for a replica that has not caught up.
	admin, err := New(Config{PrimaryDSN: dsn, DBName: "ledger"})
	require.NoError(t, err)
	require.NoError(t, admin.Connect(ctx))

	db, err := admin.Resolver()
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `CREATE DATABASE ledger_lagging`)
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	client, err := New(Config{
		PrimaryDSN: dsn,
		ReplicaDSN: strings.Replace(dsn, "/ledger?", "/ledger_lagging?", 1),
		DBName:     "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))

	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client)
	require.NoError(t, err)

	require.NoError(t, balance.Set(ctx, store, "alice", 70))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(70), got)
}
