//go:build unit

package nilcheck

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type store interface{ Get() int64 }

type memStore struct{}

func (*memStore) Get() int64 { return 0 }

func TestInterface(t *testing.T) {
	t.Parallel()

	var nilPointer *memStore
	var nilMap map[string]int64
	var nilFunc func()
	var typedNil store = nilPointer

	require.True(t, Interface(nil))
	require.True(t, Interface(nilPointer))
	require.True(t, Interface(nilMap))
	require.True(t, Interface(nilFunc))
	require.True(t, Interface(typedNil))

	require.False(t, Interface(int64(0)))
	require.False(t, Interface(""))
	require.False(t, Interface(&memStore{}))
	require.False(t, Interface(map[string]int64{}))
}
