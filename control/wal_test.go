package control

import (
	"path/filepath"
	"testing"

	"GTM/configs"
	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestWALStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gtm_control")
	store, err := NewStore(configs.WALControl, dir)
	tassert.NoError(t, err)

	_, saved, err := store.LoadControl()
	tassert.NoError(t, err)
	tassert.False(t, saved)

	tassert.NoError(t, store.SaveControl(2003))
	tassert.NoError(t, store.SaveControl(4003))
	v, saved, err := store.LoadControl()
	tassert.NoError(t, err)
	tassert.True(t, saved)
	assert.Equal(t, v, uint32(4003))
	tassert.NoError(t, store.Close())

	// the newest checkpoint survives a reopen.
	store, err = NewStore(configs.WALControl, dir)
	tassert.NoError(t, err)
	v, saved, err = store.LoadControl()
	tassert.NoError(t, err)
	tassert.True(t, saved)
	assert.Equal(t, v, uint32(4003))
	tassert.NoError(t, store.Close())
}

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()
	_, saved, err := store.LoadControl()
	tassert.NoError(t, err)
	tassert.False(t, saved)
	tassert.NoError(t, store.SaveControl(77))
	v, saved, err := store.LoadControl()
	tassert.NoError(t, err)
	tassert.True(t, saved)
	assert.Equal(t, v, uint32(77))
}
