//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/balance/balancetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return uri
}

func TestIntegration_RedisStoreContract(t *testing.T) {
	uri := setupRedisContainer(t)
	ctx := context.Background()

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client, err := Connect(ctx, ClientConfig{Addresses: []string{opts.Addr}})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	balancetest.Run(t, func(t *testing.T) balance.Store {
		require.NoError(t, client.FlushDB(ctx).Err())

		store, err := NewStore(client, StoreConfig{})
		require.NoError(t, err)

		return store
	})
}
