// Package balancetest holds the behaviour every balance.Store backend must
// share, as a reusable test suite.
package balancetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) balance.Store

var errAbort = errors.New("abort")

// Run exercises store semantics against backends built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("unknown account reads zero", func(t *testing.T) {
		store := newStore(t)

		got, err := store.Get(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("set then get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, balance.Set(ctx, store, "alice", 100))
		require.NoError(t, balance.Set(ctx, store, "alice", 70))

		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(70), got)

		again, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})

	t.Run("set to zero keeps reading zero", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, balance.Set(ctx, store, "alice", 5))
		require.NoError(t, balance.Set(ctx, store, "alice", 0))

		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("negative value rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := balance.Set(ctx, store, "alice", -1)
		require.ErrorIs(t, err, balance.ErrNegativeBalance)

		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got)
	})

	t.Run("update commits all writes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, balance.Set(ctx, store, "alice", 100))

		err := store.Update(ctx, []balance.AccountID{"alice", "bob"}, func(ctx context.Context, tx balance.Tx) error {
			a, err := tx.Get(ctx, "alice")
			if err != nil {
				return err
			}

			if err := tx.Set(ctx, "alice", a-30); err != nil {
				return err
			}

			b, err := tx.Get(ctx, "bob")
			if err != nil {
				return err
			}

			return tx.Set(ctx, "bob", b+30)
		})
		require.NoError(t, err)

		assertBalance(t, store, "alice", 70)
		assertBalance(t, store, "bob", 30)
	})

	t.Run("update reads its own writes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := store.Update(ctx, []balance.AccountID{"bob"}, func(ctx context.Context, tx balance.Tx) error {
			for i := 0; i < 3; i++ {
				current, err := tx.Get(ctx, "bob")
				if err != nil {
					return err
				}

				if err := tx.Set(ctx, "bob", current+10); err != nil {
					return err
				}
			}

			return nil
		})
		require.NoError(t, err)

		assertBalance(t, store, "bob", 30)
	})

	t.Run("failed update leaves no trace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, balance.Set(ctx, store, "alice", 100))

		err := store.Update(ctx, []balance.AccountID{"alice", "bob"}, func(ctx context.Context, tx balance.Tx) error {
			if err := tx.Set(ctx, "alice", 0); err != nil {
				return err
			}

			if err := tx.Set(ctx, "bob", 100); err != nil {
				return err
			}

			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		assertBalance(t, store, "alice", 100)
		assertBalance(t, store, "bob", 0)
	})

	t.Run("undeclared account rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := store.Update(ctx, []balance.AccountID{"alice"}, func(ctx context.Context, tx balance.Tx) error {
			return tx.Set(ctx, "mallory", 1)
		})
		require.ErrorIs(t, err, balance.ErrUndeclaredAccount)

		assertBalance(t, store, "mallory", 0)
	})

	t.Run("empty account rejected", func(t *testing.T) {
		store := newStore(t)

		err := balance.Set(context.Background(), store, "", 1)
		require.ErrorIs(t, err, balance.ErrEmptyAccount)
	})

	t.Run("nil callback rejected", func(t *testing.T) {
		store := newStore(t)

		err := store.Update(context.Background(), []balance.AccountID{"alice"}, nil)
		require.ErrorIs(t, err, balance.ErrNilUpdateFn)
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		const workers = 8
		const perWorker = 5

		var wg sync.WaitGroup

		errs := make(chan error, workers*perWorker)

		for w := 0; w < workers; w++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for i := 0; i < perWorker; i++ {
					errs <- store.Update(ctx, []balance.AccountID{"counter"}, func(ctx context.Context, tx balance.Tx) error {
						current, err := tx.Get(ctx, "counter")
						if err != nil {
							return err
						}

						return tx.Set(ctx, "counter", current+1)
					})
				}
			}()
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		assertBalance(t, store, "counter", workers*perWorker)
	})

	t.Run("seed only touches zero balances", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, balance.Set(ctx, store, "alice", 5))

		applied, err := balance.SeedIfZero(ctx, store, map[balance.AccountID]int64{"alice": 100, "bob": 50})
		require.NoError(t, err)
		assert.Equal(t, []balance.AccountID{"bob"}, applied)

		assertBalance(t, store, "alice", 5)
		assertBalance(t, store, "bob", 50)
	})
}

func assertBalance(t *testing.T, store balance.Store, account balance.AccountID, want int64) {
	t.Helper()

	got, err := store.Get(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, want, got, "balance of %s", account)
}
