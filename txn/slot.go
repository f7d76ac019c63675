package txn

import (
	"fmt"

	"GTM/configs"
	"github.com/jackc/pgx/v4"
	lock "github.com/viney-shih/go-lock"
)

// TxnStarting et,al. the lifecycle states of a transaction slot.
const (
	TxnStarting          = uint8(0)
	TxnInProgress        = uint8(1)
	TxnPrepareInProgress = uint8(2)
	TxnPrepared          = uint8(3)
	TxnCommitInProgress  = uint8(4)
	TxnAbortInProgress   = uint8(5)
	TxnAborted           = uint8(6)
)

// TxnSlot is one entry of the fixed-capacity transaction table. A slot is
// recycled across many transactions; everything except InUse, Handle and the
// open-set membership is guarded by the per-slot latch, the rest by the
// registry table lock.
type TxnSlot struct {
	latch lock.RWMutex

	InUse  bool
	Handle int
	Gxid   Gxid
	State  uint8

	Isolation pgx.TxIsoLevel
	ReadOnly  bool
	IsVacuum  bool

	SessionID   string
	ClientID    uint32
	ProxyConnID int

	// 2PC bookkeeping, present only between start-prepared and cleanup.
	Gid      string
	NodeList string

	// sequence mutations registered during the transaction, handed to the
	// sequence manager on commit/abort in recorded order.
	CreatedSeqs []string
	DroppedSeqs []string
	AlteredSeqs []string
}

func newTxnSlot(handle int) *TxnSlot {
	res := &TxnSlot{
		latch:       lock.NewCASMutex(),
		Handle:      handle,
		InUse:       false,
		Gxid:        InvalidGxid,
		State:       TxnAborted,
		ProxyConnID: -1,
	}
	return res
}

// reset re-initializes the record for a fresh transaction. Caller holds the
// table lock and owns the slot.
func (c *TxnSlot) reset(iso pgx.TxIsoLevel, readOnly bool, session string, clientID uint32, connID int) {
	c.Gxid = InvalidGxid
	c.State = TxnStarting
	c.Isolation = iso
	c.ReadOnly = readOnly
	c.IsVacuum = false
	c.SessionID = session
	c.ClientID = clientID
	c.ProxyConnID = connID
	c.Gid = ""
	c.NodeList = ""
	c.CreatedSeqs = nil
	c.DroppedSeqs = nil
	c.AlteredSeqs = nil
}

// transit flips the slot state under the slot latch and panics on a
// transition the lifecycle does not allow.
func (c *TxnSlot) transit(begin uint8, end uint8) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.State == end {
		return
	}
	configs.Assert(c.State == begin,
		fmt.Sprintf("incorrect state %v (want %v) for transaction slot %v", c.State, begin, c.Handle))
	c.State = end
}

func (c *TxnSlot) setState(state uint8) {
	c.latch.Lock()
	c.State = state
	c.latch.Unlock()
}

func (c *TxnSlot) getState() uint8 {
	c.latch.RLock()
	defer c.latch.RUnlock()
	return c.State
}

// isPrepared reports whether the slot is in a 2PC state that must survive
// cleanup-by-client.
func (c *TxnSlot) isPrepared() bool {
	s := c.getState()
	return s == TxnPrepared || s == TxnPrepareInProgress
}

// RecordCreatedSeq registers a sequence created inside this transaction.
func (c *TxnSlot) RecordCreatedSeq(seq string) {
	c.latch.Lock()
	c.CreatedSeqs = append(c.CreatedSeqs, seq)
	c.latch.Unlock()
}

// RecordDroppedSeq registers a sequence dropped inside this transaction.
func (c *TxnSlot) RecordDroppedSeq(seq string) {
	c.latch.Lock()
	c.DroppedSeqs = append(c.DroppedSeqs, seq)
	c.latch.Unlock()
}

// RecordAlteredSeq registers the pre-alter copy of a sequence altered inside
// this transaction.
func (c *TxnSlot) RecordAlteredSeq(seq string) {
	c.latch.Lock()
	c.AlteredSeqs = append(c.AlteredSeqs, seq)
	c.latch.Unlock()
}
