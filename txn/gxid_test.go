package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGxidModularOrder(t *testing.T) {
	assert.True(t, GxidPrecedes(3, 4))
	assert.True(t, GxidFollows(4, 3))
	assert.True(t, GxidPrecedesOrEquals(4, 4))
	assert.True(t, GxidFollowsOrEquals(4, 4))
	// across the wrap point: a huge id precedes a small one.
	assert.True(t, GxidPrecedes(4294967290, 5))
	assert.True(t, GxidFollows(5, 4294967290))
	assert.False(t, GxidPrecedes(5, 4294967290))
}

func TestGxidReservedSkip(t *testing.T) {
	assert.Equal(t, Gxid(4), NextGxid(3))
	// the successor of the last id wraps past the reserved values.
	assert.Equal(t, FirstNormalGxid, NextGxid(4294967295))
	assert.Equal(t, FirstNormalGxid, NextGxid(InvalidGxid))
	assert.Equal(t, FirstNormalGxid, NextGxid(FrozenGxid))
	assert.False(t, InvalidGxid.IsNormal())
	assert.False(t, BootstrapGxid.IsNormal())
	assert.False(t, FrozenGxid.IsNormal())
	assert.True(t, FirstNormalGxid.IsNormal())
	assert.False(t, InvalidGxid.IsValid())
	assert.True(t, BootstrapGxid.IsValid())
}

func TestClientIDModularOrder(t *testing.T) {
	assert.True(t, ClientIDFollows(8, 7))
	assert.False(t, ClientIDFollows(7, 8))
	assert.True(t, ClientIDFollows(2, 4294967290))
}
