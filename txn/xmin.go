package txn

import (
	"GTM/configs"
	"github.com/goccy/go-json"
)

// ReportXmin records the oldest gxid a node still needs and recomputes the
// cluster-wide xmin over the open-set and all node reports. Vacuum
// transactions are excluded. Returns the latest completed gxid, the global
// xmin, and a status code; a report older than the already-published global
// xmin is rejected since pruning past it may have happened.
func (c *Manager) ReportXmin(g Gxid, nodeType string, nodeName string) (Gxid, Gxid, int) {
	// counter first: the ID-gen lock is never taken with the table lock held.
	c.idLock.RLock()
	next := c.nextGxid
	c.idLock.RUnlock()

	c.tableLock.Lock()
	defer c.tableLock.Unlock()
	if g.IsValid() && GxidPrecedes(g, c.recentGlobalXmin) {
		return c.latestCompletedGxid, c.recentGlobalXmin, configs.StatusError
	}
	if g.IsValid() {
		c.reportedXmins[nodeType+"_"+nodeName] = g
	}

	xmin := next
	for e := c.openSet.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*TxnSlot)
		if slot.IsVacuum || !slot.Gxid.IsValid() {
			continue
		}
		if GxidPrecedes(slot.Gxid, xmin) {
			xmin = slot.Gxid
		}
	}
	for _, r := range c.reportedXmins {
		if GxidPrecedes(r, xmin) {
			xmin = r
		}
	}
	if GxidFollows(xmin, c.recentGlobalXmin) {
		c.recentGlobalXmin = xmin
	}
	return c.latestCompletedGxid, c.recentGlobalXmin, configs.StatusOK
}

type registryEntry struct {
	Handle   int    `json:"Handle"`
	Gxid     Gxid   `json:"Gxid"`
	State    uint8  `json:"State"`
	Session  string `json:"Session,omitempty"`
	Gid      string `json:"Gid,omitempty"`
	IsVacuum bool   `json:"IsVacuum,omitempty"`
}

type registrySnapshot struct {
	NextGxid            Gxid            `json:"NextGxid"`
	LatestCompletedGxid Gxid            `json:"LatestCompletedGxid"`
	GlobalXmin          Gxid            `json:"GlobalXmin"`
	Open                []registryEntry `json:"Open"`
}

// SerializeRegistry renders the open-set and counters for the registry
// listing request.
func (c *Manager) SerializeRegistry() []byte {
	c.tableLock.RLock()
	snap := registrySnapshot{
		LatestCompletedGxid: c.latestCompletedGxid,
		GlobalXmin:          c.recentGlobalXmin,
		Open:                make([]registryEntry, 0, c.openSet.Len()),
	}
	for e := c.openSet.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*TxnSlot)
		snap.Open = append(snap.Open, registryEntry{
			Handle:   slot.Handle,
			Gxid:     slot.Gxid,
			State:    slot.getState(),
			Session:  slot.SessionID,
			Gid:      slot.Gid,
			IsVacuum: slot.IsVacuum,
		})
	}
	c.tableLock.RUnlock()
	snap.NextGxid = c.GetNextGxid()
	byt, err := json.Marshal(snap)
	configs.CheckError(err)
	return byt
}
