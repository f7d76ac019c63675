package network

import (
	"GTM/configs"
	"GTM/txn"
)

// BeginArg is one entry of a batched begin request.
type BeginArg struct {
	Isolation string
	ReadOnly  bool
	SessionID string
	ConnID    int
}

// Request packs every argument a GTM operation can carry; the Mark selects
// the handler and which fields are meaningful.
type Request struct {
	Mark   string
	ConnID int
	// ClientID is stamped by the server on arrival for direct clients and
	// carried through on bkup forwards so the standby mirrors ownership.
	ClientID uint32

	Isolation string
	ReadOnly  bool
	SessionID string

	Gxid         txn.Gxid
	PreparedGxid txn.Gxid
	Gid          string
	NodeList     string
	WaitedGxids  []txn.Gxid

	Items []BeginArg
	Gxids []txn.Gxid

	Handle   int
	NodeType string
	NodeName string
}

// Response mirrors Request: one struct, the Mark tells the reader which
// fields are filled. ConnID repeats the proxy connection id of the incoming
// frame.
type Response struct {
	Mark   string
	ConnID int
	OK     bool
	Error  string

	Handle       int
	Gxid         txn.Gxid
	PreparedGxid txn.Gxid
	NodeList     string

	Status   int
	Statuses []int
	Gxids    []txn.Gxid

	NextGxid            txn.Gxid
	LatestCompletedGxid txn.Gxid
	GlobalXmin          txn.Gxid

	Timestamp int64
	Length    int
	Registry  []byte
}

// BkupMark maps a primary mark to its standby twin. Marks without a twin map
// to the empty string.
func BkupMark(mark string) string {
	switch mark {
	case configs.TxnBegin:
		return configs.BkupTxnBegin
	case configs.TxnBeginGetGxid:
		return configs.BkupTxnBeginGetGxid
	case configs.TxnBeginGetGxidAV:
		return configs.BkupTxnBeginGetGxidAV
	case configs.TxnBeginGetGxidMulti:
		return configs.BkupTxnBeginGetGxidMulti
	case configs.TxnPrepare:
		return configs.BkupTxnPrepare
	case configs.TxnStartPrepared:
		return configs.BkupTxnStartPrepared
	case configs.TxnCommit:
		return configs.BkupTxnCommit
	case configs.TxnCommitPrepared:
		return configs.BkupTxnCommitPrepared
	case configs.TxnCommitMulti:
		return configs.BkupTxnCommitMulti
	case configs.TxnRollback:
		return configs.BkupTxnRollback
	case configs.TxnRollbackMulti:
		return configs.BkupTxnRollbackMulti
	default:
		return ""
	}
}

// Bkup clones a request as its standby twin, carrying the client id and the
// gxids the master assigned.
func (c *Request) Bkup(clientID uint32, gxids []txn.Gxid) *Request {
	res := *c
	res.Mark = BkupMark(c.Mark)
	res.ClientID = clientID
	res.Gxids = gxids
	return &res
}

// IsBkup reports whether the mark is a standby twin.
func IsBkup(mark string) bool {
	return len(mark) > 6 && mark[:6] == "[bkup]"
}
