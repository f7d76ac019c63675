package txn

import (
	"fmt"
	"strconv"

	"GTM/configs"
	"GTM/utils"
)

// GetNextGxid reads the allocation counter without advancing it.
func (c *Manager) GetNextGxid() Gxid {
	c.idLock.RLock()
	defer c.idLock.RUnlock()
	return c.nextGxid
}

// SetNextGxid seeds the counter while the registry is STARTING and moves it to
// RUNNING. Allocation is refused before this has happened.
func (c *Manager) SetNextGxid(g Gxid) error {
	c.idLock.Lock()
	defer c.idLock.Unlock()
	if c.state != configs.GTMStarting {
		return utils.ErrNotStarting
	}
	if !g.IsNormal() {
		g = FirstNormalGxid
	}
	c.nextGxid = g
	c.controlGxid = g
	c.state = configs.GTMRunning
	return nil
}

// Restore seeds the counter from the control store, falling back to the first
// normal gxid when no checkpoint exists yet.
func (c *Manager) Restore() error {
	v, ok, err := c.control.LoadControl()
	if err != nil {
		return err
	}
	if !ok {
		return c.SetNextGxid(FirstNormalGxid)
	}
	return c.SetNextGxid(Gxid(v))
}

// SetShuttingDown gates further allocations off.
func (c *Manager) SetShuttingDown() {
	c.idLock.Lock()
	c.state = configs.GTMShuttingDown
	c.idLock.Unlock()
}

// SetWraparoundLimits derives the vacuum/warn/stop limits from the oldest
// gxid still needed by any node. Until this is called the limit checks are
// skipped entirely.
func (c *Manager) SetWraparoundLimits(oldest Gxid) {
	c.idLock.Lock()
	defer c.idLock.Unlock()
	c.oldestGxid = oldest
	wrap := oldest + (1 << 31)
	if !wrap.IsNormal() {
		wrap = FirstNormalGxid
	}
	c.wrapLimit = wrap
	c.stopLimit = wrap - configs.WrapStopDistance
	c.warnLimit = c.stopLimit - configs.WrapWarnDistance
	c.vacLimit = oldest + configs.VacInterval
	c.limitsValid = true
}

// checkWraparound applies the limit policy to the gxid about to be issued.
// Caller holds the ID-gen lock exclusively.
func (c *Manager) checkWraparound(xid Gxid) error {
	if !c.limitsValid || !GxidFollowsOrEquals(xid, c.vacLimit) {
		return nil
	}
	if GxidFollowsOrEquals(xid, c.stopLimit) {
		return utils.ErrWraparoundStop
	}
	if GxidFollowsOrEquals(xid, c.warnLimit) {
		configs.Warn(false, "gxid wraparound in "+strconv.FormatUint(uint64(uint32(c.wrapLimit-xid)), 10)+" transactions")
	}
	return nil
}

// AllocateGxids assigns a gxid to every handle whose slot has none yet and
// returns the per-handle gxids. Assignments already made stay in place when a
// later handle fails. The control-file save runs with no registry lock held.
func (c *Manager) AllocateGxids(handles []int) ([]Gxid, error) {
	res := make([]Gxid, len(handles))
	needSave := false
	c.idLock.Lock()
	if c.isStandby {
		c.idLock.Unlock()
		return nil, utils.ErrStandbyMode
	}
	if c.state != configs.GTMRunning {
		c.idLock.Unlock()
		if c.state == configs.GTMStarting {
			return nil, utils.ErrNotStarting
		}
		return nil, utils.ErrShuttingDown
	}
	newly := make([]*TxnSlot, 0, len(handles))
	var failed error
	c.tableLock.Lock()
	for i, h := range handles {
		slot, err := c.byHandle(h)
		if err != nil {
			failed = err
			break
		}
		if slot.Gxid.IsValid() {
			res[i] = slot.Gxid
			continue
		}
		if err = c.checkWraparound(c.nextGxid); err != nil {
			failed = err
			break
		}
		g := c.nextGxid
		c.nextGxid = NextGxid(c.nextGxid)
		c.sinceControl++
		slot.latch.Lock()
		slot.Gxid = g
		slot.latch.Unlock()
		slot.transit(TxnStarting, TxnInProgress)
		c.byGxid[g] = slot
		res[i] = g
		newly = append(newly, slot)
		configs.TxnPrint(uint32(g), " allocated for handle "+strconv.Itoa(h))
	}
	c.tableLock.Unlock()
	if len(newly) > 0 && (c.sinceControl >= configs.ControlInterval || GxidPrecedes(c.nextGxid, c.controlGxid)) {
		c.controlGxid = c.nextGxid
		c.sinceControl = 0
		needSave = true
	}
	saveGxid := c.controlGxid
	c.idLock.Unlock()
	if needSave {
		if err := c.control.SaveControl(uint32(saveGxid)); err != nil {
			configs.Warn(false, fmt.Sprintf("control checkpoint at gxid %v failed: %v", saveGxid, err))
		}
	}
	if failed != nil {
		return res, failed
	}
	return res, nil
}

// BkupSetGxid applies a master-assigned gxid to a standby slot and pulls the
// local counter past it, skipping the reserved values on wrap.
func (c *Manager) BkupSetGxid(h int, g Gxid) error {
	c.idLock.Lock()
	defer c.idLock.Unlock()
	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	slot, err := c.byHandle(h)
	if err != nil {
		return err
	}
	slot.latch.Lock()
	slot.Gxid = g
	slot.latch.Unlock()
	slot.transit(TxnStarting, TxnInProgress)
	c.byGxid[g] = slot
	if GxidFollowsOrEquals(g, c.nextGxid) {
		c.nextGxid = NextGxid(g)
	}
	return nil
}

// NeedsRestoreUpdate reports whether the standby should be told about counter
// progress since the last backup hint.
func (c *Manager) NeedsRestoreUpdate() bool {
	c.idLock.RLock()
	defer c.idLock.RUnlock()
	return GxidPrecedesOrEquals(c.backedUpGxid, c.nextGxid)
}

// SetBackedUpGxid records the counter value last shipped to the standby.
func (c *Manager) SetBackedUpGxid(g Gxid) {
	c.idLock.Lock()
	c.backedUpGxid = g
	c.idLock.Unlock()
}
