//go:build unit

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/balance/balancetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreContract(t *testing.T) {
	balancetest.Run(t, func(t *testing.T) balance.Store {
		return newTestStore(t)
	})
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestReopenKeepsBalancesAndSkipsMigrations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, balance.Set(ctx, first, "alice", 9))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = second.Close() })

	got, err := second.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}

func TestSchemaRejectsNegativeAmounts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.db.ExecContext(context.Background(), upsertBalance, "alice", -1)
	assert.Error(t, err)
}
