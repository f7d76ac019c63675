package txn

// removeLocked is the common removal tail of commit, rollback and
// cleanup-by-client. Caller holds the table lock exclusively. For every
// enqueued slot it drops the open-set membership, publishes the latest
// completed gxid, hands the sequence mutations to the sequence manager, and
// recycles the record.
func (c *Manager) removeLocked(enqueued []*TxnSlot) int {
	removed := 0
	for _, slot := range enqueued {
		if !slot.InUse {
			continue
		}
		c.dropFromOpenSet(slot)
		if slot.Gxid.IsNormal() && GxidFollowsOrEquals(slot.Gxid, c.latestCompletedGxid) {
			c.latestCompletedGxid = slot.Gxid
		}
		c.cleanupSequences(slot)

		slot.latch.Lock()
		slot.Gid = ""
		slot.NodeList = ""
		slot.SessionID = ""
		slot.CreatedSeqs = nil
		slot.DroppedSeqs = nil
		slot.AlteredSeqs = nil
		slot.State = TxnAborted
		slot.latch.Unlock()
		slot.InUse = false
		c.freeCount++
		removed++
	}
	return removed
}

// cleanupSequences dispatches the recorded sequence work on the slot state.
// Created sequences are dropped before the dropped ones are restored so that
// a restored name freed by the drop can be reused.
func (c *Manager) cleanupSequences(slot *TxnSlot) {
	switch slot.getState() {
	case TxnAbortInProgress:
		for _, s := range slot.CreatedSeqs {
			c.seqs.Drop(s)
		}
		for _, s := range slot.DroppedSeqs {
			c.seqs.Restore(s)
		}
		for _, s := range slot.AlteredSeqs {
			c.seqs.Restore(s)
		}
	case TxnCommitInProgress:
		for _, s := range slot.DroppedSeqs {
			c.seqs.Remove(s)
		}
		for _, s := range slot.AlteredSeqs {
			c.seqs.RemoveAltered(s)
		}
	default:
		// no sequence work for other states.
	}
}
