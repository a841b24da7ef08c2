//go:build unit

package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/balance/balancetest"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Options{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreContract(t *testing.T) {
	balancetest.Run(t, func(t *testing.T) balance.Store {
		return newTestStore(t)
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	first, err := Open(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, balance.Set(ctx, first, "alice", 42))
	require.NoError(t, first.Close())

	second, err := Open(Options{Path: dir})
	require.NoError(t, err)

	t.Cleanup(func() { _ = second.Close() })

	got, err := second.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestStoreRejectsCorruptValue(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("alice"), []byte{1, 2, 3})
	}))

	_, err := store.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrCorruptValue)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	for _, v := range []int64{0, 1, 150, 1 << 40} {
		got, err := decode(encode(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestBadgerLoggerRespectsLevel(t *testing.T) {
	t.Parallel()

	l := &badgerLogger{logger: alog.NewNop()}

	assert.NotPanics(t, func() {
		l.Errorf("value log %d", 1)
		l.Warningf("slow")
		l.Infof("compaction")
		l.Debugf("tick")
	})
}
