//go:build unit

package transfer

import (
	"context"
	"math"
	"testing"

	"github.com/impulsar/lib-aru/aru/assert"
	"github.com/impulsar/lib-aru/aru/balance"
	testifyassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[balance.AccountID]int64

func (m mapReader) Get(_ context.Context, account balance.AccountID) (int64, error) {
	return m[account], nil
}

func TestLedgerTracksFirstReadAndLastWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	staged := balance.NewStaged(mapReader{"alice": 10}, []balance.AccountID{"alice", "bob"})
	l := newLedger(staged)

	require.NoError(t, l.Set(ctx, "bob", 4))
	require.NoError(t, l.Set(ctx, "alice", 8))
	require.NoError(t, l.Set(ctx, "alice", 6))

	testifyassert.Equal(t, map[balance.AccountID]int64{"alice": 10, "bob": 0}, l.before)
	testifyassert.Equal(t, map[balance.AccountID]int64{"alice": 6, "bob": 4}, l.after)
	testifyassert.Equal(t, []balance.AccountID{"bob", "alice"}, l.order)
}

func TestVerifyRejectsUnbalancedWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, err := NewEngine(balance.NewMemoryStore())
	require.NoError(t, err)

	staged := balance.NewStaged(mapReader{"alice": 10}, []balance.AccountID{"alice", "bob"})
	l := newLedger(staged)

	require.NoError(t, l.Set(ctx, "alice", 5))
	require.NoError(t, l.Set(ctx, "bob", 6))

	err = engine.verify(ctx, opTransfer, l)
	require.ErrorIs(t, err, assert.ErrAssertionFailed)
}

func TestVerifyAcceptsBalancedWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, err := NewEngine(balance.NewMemoryStore())
	require.NoError(t, err)

	staged := balance.NewStaged(mapReader{"alice": 10}, []balance.AccountID{"alice", "bob"})
	l := newLedger(staged)

	require.NoError(t, l.Set(ctx, "alice", 4))
	require.NoError(t, l.Set(ctx, "bob", 6))

	require.NoError(t, engine.verify(ctx, opTransfer, l))
}

func TestAddUnits(t *testing.T) {
	t.Parallel()

	sum, ok := addUnits(2, 3)
	testifyassert.True(t, ok)
	testifyassert.Equal(t, int64(5), sum)

	sum, ok = addUnits(math.MaxInt64-1, 1)
	testifyassert.True(t, ok)
	testifyassert.Equal(t, int64(math.MaxInt64), sum)

	_, ok = addUnits(math.MaxInt64, 1)
	testifyassert.False(t, ok)
}
