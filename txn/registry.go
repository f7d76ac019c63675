package txn

import (
	"container/list"

	"GTM/configs"
	"GTM/control"
	"GTM/locks"
	"GTM/utils"
	"github.com/jackc/pgx/v4"
)

// Manager owns the transaction table: the fixed slot array, the open-set of
// in-use slots, the gxid counter, and the auxiliary lookup indexes. Three lock
// classes guard it, always acquired in this order: the ID-gen lock for the
// counters, the table lock for slot allocation and open-set membership, and
// the per-slot latch for state flips inside an already-located slot.
type Manager struct {
	idLock    *locks.RWLock
	tableLock *locks.RWLock

	slots     []*TxnSlot
	openSet   *list.List
	openElems []*list.Element
	lastSlot  int
	freeCount int

	byGxid    map[Gxid]*TxnSlot
	byGid     map[string]*TxnSlot
	bySession map[string]*TxnSlot

	state     uint8
	isStandby bool

	nextGxid     Gxid
	oldestGxid   Gxid
	vacLimit     Gxid
	warnLimit    Gxid
	stopLimit    Gxid
	wrapLimit    Gxid
	limitsValid  bool
	sinceControl uint32
	controlGxid  Gxid
	backedUpGxid Gxid

	latestCompletedGxid Gxid
	recentGlobalXmin    Gxid
	reportedXmins       map[string]Gxid

	seqs    SequenceManager
	control control.Store
}

// NewManager builds a registry of configs.NMax slots in the STARTING state.
// The gxid counter is seeded with SetNextGxid or Restore before use.
func NewManager(ctrl control.Store, seqs SequenceManager, standby bool) *Manager {
	if seqs == nil {
		seqs = NopSequenceManager()
	}
	if ctrl == nil {
		ctrl = control.NewMemStore()
	}
	res := &Manager{
		idLock:    locks.NewLocker(),
		tableLock: locks.NewLocker(),
		slots:     make([]*TxnSlot, configs.NMax),
		openSet:   list.New(),
		openElems: make([]*list.Element, configs.NMax),
		lastSlot:  configs.NMax - 1,
		freeCount: configs.NMax,
		byGxid:    make(map[Gxid]*TxnSlot),
		byGid:     make(map[string]*TxnSlot),
		bySession: make(map[string]*TxnSlot),
		state:     configs.GTMStarting,
		isStandby: standby,

		nextGxid:            FirstNormalGxid,
		oldestGxid:          FirstNormalGxid,
		latestCompletedGxid: InvalidGxid,
		recentGlobalXmin:    FirstNormalGxid,
		reportedXmins:       make(map[string]Gxid),

		seqs:    seqs,
		control: ctrl,
	}
	for i := 0; i < configs.NMax; i++ {
		res.slots[i] = newTxnSlot(i)
	}
	return res
}

// byHandle resolves a handle to its in-use slot. Caller holds the table lock.
func (c *Manager) byHandle(h int) (*TxnSlot, error) {
	if h < 0 || h >= len(c.slots) || !c.slots[h].InUse {
		return nil, utils.ErrInvalidHandle
	}
	return c.slots[h], nil
}

// allocateSlot finds a free slot scanning forward from the rotating cursor,
// initializes it and appends it to the open-set. Caller holds the table lock
// exclusively.
func (c *Manager) allocateSlot(iso pgx.TxIsoLevel, readOnly bool, session string, clientID uint32, connID int) (*TxnSlot, error) {
	if c.freeCount == 0 {
		return nil, utils.ErrCapacity
	}
	n := len(c.slots)
	for i := 1; i <= n; i++ {
		h := (c.lastSlot + i) % n
		if c.slots[h].InUse {
			continue
		}
		c.lastSlot = h
		slot := c.slots[h]
		slot.reset(iso, readOnly, session, clientID, connID)
		slot.InUse = true
		c.freeCount--
		c.openElems[h] = c.openSet.PushBack(slot)
		if session != "" {
			c.bySession[session] = slot
		}
		return slot, nil
	}
	return nil, utils.ErrCapacity
}

// dropFromOpenSet detaches an in-use slot from the open-set and the auxiliary
// indexes. Caller holds the table lock exclusively; the slot record itself is
// cleared by the removal tail.
func (c *Manager) dropFromOpenSet(slot *TxnSlot) {
	h := slot.Handle
	if c.openElems[h] != nil {
		c.openSet.Remove(c.openElems[h])
		c.openElems[h] = nil
	}
	if slot.Gxid.IsValid() {
		delete(c.byGxid, slot.Gxid)
	}
	if slot.Gid != "" {
		delete(c.byGid, slot.Gid)
	}
	if slot.SessionID != "" && c.bySession[slot.SessionID] == slot {
		delete(c.bySession, slot.SessionID)
	}
}

// CountOpen returns the number of in-use slots.
func (c *Manager) CountOpen() int {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	return c.openSet.Len()
}

// FreeSlots returns the number of slots available for allocation.
func (c *Manager) FreeSlots() int {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	return c.freeCount
}

// OpenGxids snapshots the gxids of all open transactions in open-set order.
func (c *Manager) OpenGxids() []Gxid {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	res := make([]Gxid, 0, c.openSet.Len())
	for e := c.openSet.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*TxnSlot)
		if slot.Gxid.IsValid() {
			res = append(res, slot.Gxid)
		}
	}
	return res
}

// GetTxnByGxid returns the handle of the open transaction holding g.
func (c *Manager) GetTxnByGxid(g Gxid) (int, error) {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	slot, ok := c.byGxid[g]
	if !ok {
		return InvalidHandle, utils.ErrUnknownGxid
	}
	return slot.Handle, nil
}

// GetTxnByGid returns the handle of the open transaction bound to gid.
func (c *Manager) GetTxnByGid(gid string) (int, error) {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	slot, ok := c.byGid[gid]
	if !ok {
		return InvalidHandle, utils.ErrUnknownGid
	}
	return slot.Handle, nil
}

// GetTxnBySession returns the handle of the open transaction bound to the
// session, or ErrInvalidHandle when the session has none.
func (c *Manager) GetTxnBySession(session string) (int, error) {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	slot, ok := c.bySession[session]
	if !ok {
		return InvalidHandle, utils.ErrInvalidHandle
	}
	return slot.Handle, nil
}

// GetGxidByHandle returns the gxid recorded in the slot, InvalidGxid when none
// has been allocated yet.
func (c *Manager) GetGxidByHandle(h int) (Gxid, error) {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	slot, err := c.byHandle(h)
	if err != nil {
		return InvalidGxid, err
	}
	return slot.Gxid, nil
}

// SlotState exposes the state of an in-use slot, mostly for tests and the
// serialized registry listing.
func (c *Manager) SlotState(h int) (uint8, error) {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	slot, err := c.byHandle(h)
	if err != nil {
		return TxnAborted, err
	}
	return slot.getState(), nil
}

// GetLastClientID returns the highest client id observed in the open-set in
// modular order, or 0 when the open-set is empty.
func (c *Manager) GetLastClientID() uint32 {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	res := uint32(0)
	seen := false
	for e := c.openSet.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*TxnSlot)
		if !seen || ClientIDFollows(slot.ClientID, res) {
			res = slot.ClientID
			seen = true
		}
	}
	return res
}

// GetLatestCompletedGxid returns the latest completed gxid published by the
// removal tail.
func (c *Manager) GetLatestCompletedGxid() Gxid {
	c.tableLock.RLock()
	defer c.tableLock.RUnlock()
	return c.latestCompletedGxid
}

// IsStandby reports whether this registry runs as the warm standby.
func (c *Manager) IsStandby() bool {
	return c.isStandby
}
