package txn

import (
	"testing"

	"GTM/configs"
	"GTM/control"
	"GTM/utils"
	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestAllocateRequiresRunning(t *testing.T) {
	m := NewManager(nil, nil, false)
	h, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	_, err = m.AllocateGxids([]int{h})
	assert.Equal(t, err, utils.ErrNotStarting)

	configs.CheckError(m.SetNextGxid(FirstNormalGxid))
	assert.Equal(t, m.SetNextGxid(FirstNormalGxid), utils.ErrNotStarting)

	m.SetShuttingDown()
	_, err = m.AllocateGxids([]int{h})
	assert.Equal(t, err, utils.ErrShuttingDown)
}

func TestAllocateRefusedOnStandby(t *testing.T) {
	m := NewManager(nil, nil, true)
	configs.CheckError(m.SetNextGxid(FirstNormalGxid))
	h, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	_, err = m.AllocateGxids([]int{h})
	assert.Equal(t, err, utils.ErrStandbyMode)
}

func TestAllocateReturnsExistingGxid(t *testing.T) {
	m := newTestKit()
	h, g, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	gxids, err := m.AllocateGxids([]int{h})
	tassert.NoError(t, err)
	assert.Equal(t, gxids[0], g)
	assert.Equal(t, m.GetNextGxid(), NextGxid(g))
}

func TestWraparoundWarnAndStop(t *testing.T) {
	m := newTestKit()
	m.idLock.Lock()
	m.limitsValid = true
	m.vacLimit = 5
	m.warnLimit = 10
	m.stopLimit = 20
	m.wrapLimit = 30
	m.nextGxid = 10
	m.idLock.Unlock()

	h, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	gxids, err := m.AllocateGxids([]int{h})
	tassert.NoError(t, err)
	assert.Equal(t, gxids[0], Gxid(10))

	m.idLock.Lock()
	m.nextGxid = 20
	m.idLock.Unlock()
	h2, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	_, err = m.AllocateGxids([]int{h2})
	assert.Equal(t, err, utils.ErrWraparoundStop)
	g, err := m.GetGxidByHandle(h2)
	tassert.NoError(t, err)
	assert.Equal(t, g, InvalidGxid)
}

func TestControlCheckpointCadence(t *testing.T) {
	oldInterval := configs.ControlInterval
	configs.ControlInterval = 5
	defer func() { configs.ControlInterval = oldInterval }()

	ctrl := control.NewMemStore()
	m := NewManager(ctrl, nil, false)
	configs.CheckError(m.SetNextGxid(FirstNormalGxid))

	for i := 0; i < 4; i++ {
		h, _, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "", -1)
		tassert.NoError(t, err)
		m.CommitTxn(h, nil)
	}
	_, saved, err := ctrl.LoadControl()
	tassert.NoError(t, err)
	tassert.False(t, saved)

	h, _, err := m.BeginTxnGetGxid(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	m.CommitTxn(h, nil)
	v, saved, err := ctrl.LoadControl()
	tassert.NoError(t, err)
	tassert.True(t, saved)
	assert.Equal(t, v, uint32(8))
}

func TestRestoreSeedsCounter(t *testing.T) {
	ctrl := control.NewMemStore()
	configs.CheckError(ctrl.SaveControl(42))
	m := NewManager(ctrl, nil, false)
	configs.CheckError(m.Restore())
	assert.Equal(t, m.GetNextGxid(), Gxid(42))

	fresh := NewManager(control.NewMemStore(), nil, false)
	configs.CheckError(fresh.Restore())
	assert.Equal(t, fresh.GetNextGxid(), FirstNormalGxid)
}

func TestBkupAdvancesPastMasterGxid(t *testing.T) {
	m := NewManager(nil, nil, true)
	configs.CheckError(m.SetNextGxid(FirstNormalGxid))
	h, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	tassert.NoError(t, m.BkupSetGxid(h, Gxid(100)))
	assert.Equal(t, m.GetNextGxid(), Gxid(101))

	h2, err := m.BeginTxn(1, configs.DefaultIsolationLevel, false, "", -1)
	tassert.NoError(t, err)
	tassert.NoError(t, m.BkupSetGxid(h2, Gxid(50)))
	assert.Equal(t, m.GetNextGxid(), Gxid(101))
	g, err := m.GetGxidByHandle(h2)
	tassert.NoError(t, err)
	assert.Equal(t, g, Gxid(50))
}

func TestNeedsRestoreUpdate(t *testing.T) {
	m := newTestKit()
	tassert.True(t, m.NeedsRestoreUpdate())
	m.SetBackedUpGxid(m.GetNextGxid() + 10)
	tassert.False(t, m.NeedsRestoreUpdate())
}
