//go:build unit

package auth

import (
	"testing"

	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/stretchr/testify/assert"
)

func TestSameAccount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		caller Identity
		source balance.AccountID
		want   bool
	}{
		{name: "owner", caller: Identity{Account: "alice"}, source: "alice", want: true},
		{name: "other account", caller: Identity{Account: "mallory"}, source: "alice", want: false},
		{name: "anonymous caller", caller: Anonymous, source: "alice", want: false},
		{name: "anonymous caller and empty source", caller: Anonymous, source: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, SameAccount(tt.caller, tt.source))
		})
	}
}

func TestDelegated(t *testing.T) {
	t.Parallel()

	authorize := Delegated(map[balance.AccountID][]balance.AccountID{
		"treasurer": {"treasury", "payroll"},
	})

	assert.True(t, authorize(Identity{Account: "treasurer"}, "treasurer"))
	assert.True(t, authorize(Identity{Account: "treasurer"}, "payroll"))
	assert.False(t, authorize(Identity{Account: "treasurer"}, "alice"))
	assert.False(t, authorize(Identity{Account: "alice"}, "treasury"))
	assert.False(t, authorize(Anonymous, "treasury"))
}
