package txn

import (
	"testing"

	"GTM/configs"
	"GTM/utils"
	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func makeSmall() int {
	old := configs.NMax
	configs.NMax = 8
	return old
}

func recSmall(old int) {
	configs.NMax = old
}

func TestSlotCapacity(t *testing.T) {
	defer recSmall(makeSmall())
	m := newTestKit()
	for i := 0; i < configs.NMax; i++ {
		_, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
		tassert.NoError(t, err)
	}
	assert.Equal(t, m.FreeSlots(), 0)
	_, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	assert.Equal(t, err, utils.ErrCapacity)
}

func TestBatchKeepsEarlierSlotsOnCapacity(t *testing.T) {
	defer recSmall(makeSmall())
	m := newTestKit()
	items := make([]BeginItem, configs.NMax+2)
	for i := range items {
		items[i] = BeginItem{Isolation: configs.DefaultIsolationLevel, ConnID: -1}
	}
	handles, err := m.BeginTxnMulti(1, items)
	assert.Equal(t, err, utils.ErrCapacity)
	assert.Equal(t, len(handles), configs.NMax)
	assert.Equal(t, m.CountOpen(), configs.NMax)
}

func TestCursorRotatesThroughFreedSlots(t *testing.T) {
	defer recSmall(makeSmall())
	m := newTestKit()
	h1, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	h2, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	assert.Equal(t, h1, 0)
	assert.Equal(t, h2, 1)

	m.RollbackTxn(h1)
	// the cursor keeps moving forward before it wraps back to slot 0.
	h3, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	assert.Equal(t, h3, 2)
	for i := 0; i < configs.NMax-3; i++ {
		_, err = m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
		tassert.NoError(t, err)
	}
	h4, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	assert.Equal(t, h4, h1)
}

func TestOpenSetMatchesInUse(t *testing.T) {
	defer recSmall(makeSmall())
	m := newTestKit()
	handles := make([]int, 0)
	for i := 0; i < 6; i++ {
		h, _, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "", -1)
		tassert.NoError(t, err)
		handles = append(handles, h)
	}
	m.CommitTxn(handles[1], nil)
	m.RollbackTxn(handles[4])

	open := make(map[int]bool)
	m.tableLock.RLock()
	for e := m.openSet.Front(); e != nil; e = e.Next() {
		open[e.Value.(*TxnSlot).Handle] = true
	}
	m.tableLock.RUnlock()
	for _, slot := range m.slots {
		assert.Equal(t, slot.InUse, open[slot.Handle])
	}
	assert.Equal(t, len(open), 4)
}

func TestLookupsByGxidGidSession(t *testing.T) {
	m := newTestKit()
	h, g, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "sess-a", -1)
	tassert.NoError(t, err)

	got, err := m.GetTxnByGxid(g)
	tassert.NoError(t, err)
	assert.Equal(t, got, h)
	got, err = m.GetTxnBySession("sess-a")
	tassert.NoError(t, err)
	assert.Equal(t, got, h)
	_, err = m.GetTxnByGxid(g + 100)
	assert.Equal(t, err, utils.ErrUnknownGxid)
	_, err = m.GetTxnByGid("nope")
	assert.Equal(t, err, utils.ErrUnknownGid)

	tassert.NoError(t, m.StartPrepared(h, "gid-a", "n1"))
	got, err = m.GetTxnByGid("gid-a")
	tassert.NoError(t, err)
	assert.Equal(t, got, h)

	// all indexes are dropped with the slot.
	m.RollbackTxn(h)
	_, err = m.GetTxnByGxid(g)
	assert.Equal(t, err, utils.ErrUnknownGxid)
	_, err = m.GetTxnByGid("gid-a")
	assert.Equal(t, err, utils.ErrUnknownGid)
	_, err = m.GetTxnBySession("sess-a")
	assert.Equal(t, err, utils.ErrInvalidHandle)
}

func TestSerializeRegistry(t *testing.T) {
	m := newTestKit()
	_, _, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "sess-a", -1)
	tassert.NoError(t, err)
	byt := m.SerializeRegistry()
	tassert.Contains(t, string(byt), "sess-a")
	tassert.Contains(t, string(byt), "\"NextGxid\":4")
}
