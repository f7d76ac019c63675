package txn

import (
	"strconv"

	"GTM/configs"
	"GTM/utils"
	"github.com/jackc/pgx/v4"
)

// BeginItem carries the per-transaction arguments of a batched begin.
type BeginItem struct {
	Isolation pgx.TxIsoLevel
	ReadOnly  bool
	SessionID string
	ConnID    int
}

// BeginTxnMulti opens one transaction per item and returns their handles. A
// nonempty session already bound to an open slot reuses that slot instead of
// consuming a new one. On ErrCapacity the handles acquired so far stay valid.
func (c *Manager) BeginTxnMulti(clientID uint32, items []BeginItem) ([]int, error) {
	res := make([]int, 0, len(items))
	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	for _, it := range items {
		if len(it.SessionID) > configs.SidMax {
			return res, utils.ErrSessionTooLong
		}
		if it.SessionID != "" {
			if slot, ok := c.bySession[it.SessionID]; ok {
				res = append(res, slot.Handle)
				continue
			}
		}
		slot, err := c.allocateSlot(it.Isolation, it.ReadOnly, it.SessionID, clientID, it.ConnID)
		if err != nil {
			return res, err
		}
		res = append(res, slot.Handle)
	}
	return res, nil
}

// BeginTxn is the single-transaction begin.
func (c *Manager) BeginTxn(clientID uint32, iso pgx.TxIsoLevel, readOnly bool, session string, connID int) (int, error) {
	handles, err := c.BeginTxnMulti(clientID, []BeginItem{{Isolation: iso, ReadOnly: readOnly, SessionID: session, ConnID: connID}})
	if err != nil {
		return InvalidHandle, err
	}
	return handles[0], nil
}

// BeginTxnGetGxid begins a transaction and allocates its gxid in one step.
func (c *Manager) BeginTxnGetGxid(clientID uint32, iso pgx.TxIsoLevel, readOnly bool, session string, connID int) (int, Gxid, error) {
	h, err := c.BeginTxn(clientID, iso, readOnly, session, connID)
	if err != nil {
		return InvalidHandle, InvalidGxid, err
	}
	gxids, err := c.AllocateGxids([]int{h})
	if err != nil {
		return h, InvalidGxid, err
	}
	return h, gxids[0], nil
}

// BkupBeginTxn applies a mirrored plain begin on the standby. The master
// re-sends over a fresh connection after a broken one, and a plain begin has
// no gxid to dedup against: an open slot for the same session, or a gxid-less
// sessionless slot of the same client and backend, is taken to be the earlier
// delivery of this very begin and is reused instead of orphaning a new slot.
func (c *Manager) BkupBeginTxn(clientID uint32, iso pgx.TxIsoLevel, readOnly bool, session string, connID int) (int, error) {
	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	if len(session) > configs.SidMax {
		return InvalidHandle, utils.ErrSessionTooLong
	}
	if session != "" {
		if slot, ok := c.bySession[session]; ok {
			return slot.Handle, nil
		}
	} else {
		for e := c.openSet.Front(); e != nil; e = e.Next() {
			slot := e.Value.(*TxnSlot)
			if slot.ClientID == clientID && slot.SessionID == "" &&
				slot.ProxyConnID == connID && !slot.Gxid.IsValid() {
				return slot.Handle, nil
			}
		}
	}
	slot, err := c.allocateSlot(iso, readOnly, session, clientID, connID)
	if err != nil {
		return InvalidHandle, err
	}
	return slot.Handle, nil
}

// BeginVacuumTxn opens a vacuum transaction without allocating its gxid;
// such transactions are skipped by the snapshot xmin computation.
func (c *Manager) BeginVacuumTxn(clientID uint32, iso pgx.TxIsoLevel, connID int) (int, error) {
	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	slot, err := c.allocateSlot(iso, false, "", clientID, connID)
	if err != nil {
		return InvalidHandle, err
	}
	slot.IsVacuum = true
	return slot.Handle, nil
}

// BeginTxnAutovacuum begins a vacuum transaction and allocates its gxid.
func (c *Manager) BeginTxnAutovacuum(clientID uint32, iso pgx.TxIsoLevel, connID int) (int, Gxid, error) {
	h, err := c.BeginVacuumTxn(clientID, iso, connID)
	if err != nil {
		return InvalidHandle, InvalidGxid, err
	}
	gxids, err := c.AllocateGxids([]int{h})
	if err != nil {
		return h, InvalidGxid, err
	}
	return h, gxids[0], nil
}

// StartPrepared binds a gid and the involved node list to the transaction and
// moves it into PREPARE_IN_PROGRESS. The gid must not be bound to any other
// open transaction.
func (c *Manager) StartPrepared(h int, gid string, nodeList string) error {
	if gid == "" || len(gid) > configs.GidMax {
		return utils.ErrGidTooLong
	}
	if len(nodeList) > configs.NodeStringMax {
		return utils.ErrNodesTooLong
	}
	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	slot, err := c.byHandle(h)
	if err != nil {
		return err
	}
	if _, bound := c.byGid[gid]; bound {
		return utils.ErrDuplicateGid
	}
	slot.latch.Lock()
	slot.State = TxnPrepareInProgress
	slot.Gid = gid
	slot.NodeList = nodeList
	slot.latch.Unlock()
	c.byGid[gid] = slot
	return nil
}

// Prepare finishes the prepare phase. The slot must be in PREPARE_IN_PROGRESS;
// a slot that is already PREPARED is left as it is and the call succeeds, any
// other state is an invariant failure.
func (c *Manager) Prepare(h int) error {
	c.tableLock.RLock()
	slot, err := c.byHandle(h)
	c.tableLock.RUnlock()
	if err != nil {
		return err
	}
	slot.transit(TxnPrepareInProgress, TxnPrepared)
	return nil
}

// GetGidData resolves a prepared gid, begins an auxiliary transaction and
// allocates a fresh gxid for it. The auxiliary gxid carries the COMMIT
// PREPARED / ROLLBACK PREPARED operation itself.
func (c *Manager) GetGidData(clientID uint32, iso pgx.TxIsoLevel, readOnly bool, gid string, connID int) (newHandle int, newGxid Gxid, preparedGxid Gxid, nodeList string, err error) {
	c.tableLock.RLock()
	slot, ok := c.byGid[gid]
	if !ok {
		c.tableLock.RUnlock()
		return InvalidHandle, InvalidGxid, InvalidGxid, "", utils.ErrUnknownGid
	}
	preparedGxid = slot.Gxid
	nodeList = slot.NodeList
	c.tableLock.RUnlock()

	newHandle, newGxid, err = c.BeginTxnGetGxid(clientID, iso, readOnly, "", connID)
	if err != nil {
		return InvalidHandle, InvalidGxid, InvalidGxid, "", err
	}
	return newHandle, newGxid, preparedGxid, nodeList, nil
}

// CommitTxnMulti drives the commit of a batch. Per entry: an invalid handle
// yields StatusError; a waited gxid still in the open-set yields StatusDelayed
// with the slot untouched, and the client retries; otherwise the slot enters
// COMMIT_IN_PROGRESS and is enqueued. Enqueued slots are removed atomically
// under the table lock. Returns the per-entry statuses and the removal count.
func (c *Manager) CommitTxnMulti(handles []int, waitedGxids []Gxid) ([]int, int) {
	statuses := make([]int, len(handles))
	enqueued := make([]*TxnSlot, 0, len(handles))
	c.tableLock.Lock()
	for i, h := range handles {
		slot, err := c.byHandle(h)
		if err != nil {
			statuses[i] = configs.StatusError
			continue
		}
		delayed := false
		for _, w := range waitedGxids {
			if other, open := c.byGxid[w]; open && other != slot {
				delayed = true
				break
			}
		}
		if delayed {
			statuses[i] = configs.StatusDelayed
			configs.TxnPrint(uint32(slot.Gxid), " commit delayed on in-progress transactions")
			continue
		}
		slot.setState(TxnCommitInProgress)
		statuses[i] = configs.StatusOK
		enqueued = append(enqueued, slot)
	}
	removed := c.removeLocked(enqueued)
	c.tableLock.Unlock()
	return statuses, removed
}

// CommitTxn commits a single transaction.
func (c *Manager) CommitTxn(h int, waitedGxids []Gxid) int {
	statuses, _ := c.CommitTxnMulti([]int{h}, waitedGxids)
	return statuses[0]
}

// CommitPrepared commits the auxiliary transaction and the prepared one as a
// single two-slot batch. The auxiliary status is authoritative for the client.
func (c *Manager) CommitPrepared(commitHandle int, preparedHandle int, waitedGxids []Gxid) int {
	statuses, _ := c.CommitTxnMulti([]int{commitHandle, preparedHandle}, waitedGxids)
	return statuses[0]
}

// RollbackTxnMulti aborts a batch of transactions and removes their slots.
func (c *Manager) RollbackTxnMulti(handles []int) ([]int, int) {
	statuses := make([]int, len(handles))
	enqueued := make([]*TxnSlot, 0, len(handles))
	c.tableLock.Lock()
	for i, h := range handles {
		slot, err := c.byHandle(h)
		if err != nil {
			statuses[i] = configs.StatusError
			continue
		}
		slot.setState(TxnAbortInProgress)
		statuses[i] = configs.StatusOK
		enqueued = append(enqueued, slot)
	}
	removed := c.removeLocked(enqueued)
	c.tableLock.Unlock()
	return statuses, removed
}

// RollbackTxn aborts a single transaction.
func (c *Manager) RollbackTxn(h int) int {
	statuses, _ := c.RollbackTxnMulti([]int{h})
	return statuses[0]
}

// RemoveAllTxns aborts every transaction of a disconnected client. A connID of
// -1 matches all of the client's backends. Prepared transactions survive; they
// are completed later through the gid path, typically by another client.
func (c *Manager) RemoveAllTxns(clientID uint32, connID int) int {
	enqueued := make([]*TxnSlot, 0)
	c.tableLock.Lock()
	for e := c.openSet.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*TxnSlot)
		if slot.ClientID != clientID {
			continue
		}
		if connID != -1 && connID != slot.ProxyConnID {
			continue
		}
		if slot.isPrepared() {
			continue
		}
		slot.setState(TxnAbortInProgress)
		enqueued = append(enqueued, slot)
	}
	removed := c.removeLocked(enqueued)
	c.tableLock.Unlock()
	configs.DPrintf("removed " + strconv.Itoa(removed) + " transactions for client " + strconv.FormatUint(uint64(clientID), 10))
	return removed
}
