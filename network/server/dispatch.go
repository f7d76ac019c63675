package server

import (
	"errors"
	"time"

	"GTM/configs"
	"GTM/network"
	"GTM/txn"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
)

func isolationOf(s string) pgx.TxIsoLevel {
	if s == "" {
		return configs.DefaultIsolationLevel
	}
	return pgx.TxIsoLevel(s)
}

func errResponse(req *network.Request, err error) *network.Response {
	return &network.Response{
		Mark: req.Mark, ConnID: req.ConnID,
		OK: false, Status: configs.StatusError, Error: err.Error(),
	}
}

// resolve maps a gxid to its handle, InvalidHandle when unknown; the batch
// status computation turns that into StatusError per entry.
func (stmt *Context) resolve(g txn.Gxid) int {
	h, err := stmt.Manager.GetTxnByGxid(g)
	if err != nil {
		return txn.InvalidHandle
	}
	return h
}

// mirror forwards the bkup twin of a successful mutation to the standby
// before the client response is written. In asynchronous mode a lost standby
// only warns and the master keeps serving; synchronous mode (and only for
// non-proxy callers) escalates the failure to the client.
func (stmt *Context) mirror(req *network.Request, gxids []txn.Gxid) error {
	if stmt.Standby == nil {
		return nil
	}
	err := stmt.Standby.Forward(req.Bkup(req.ClientID, gxids))
	sync := configs.SynchronousBackup && req.ConnID == -1
	if err != nil {
		if sync {
			return err
		}
		configs.Warn(false, "asynchronous backup lost a mutation: "+err.Error())
		return nil
	}
	if sync {
		return stmt.Standby.FlushSync()
	}
	return nil
}

// dispatch decodes one frame and runs its handler: parse, act, replicate,
// respond. A nil response means the frame needs no reply (bkup applies). A
// non-nil error is a protocol error and kills the connection.
func (stmt *Context) dispatch(clientID uint32, direct *bool, data []byte) (*network.Response, error) {
	var req network.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if network.IsBkup(req.Mark) {
		stmt.applyBkup(&req)
		return nil, nil
	}
	if req.Mark == configs.StandbyAck {
		return &network.Response{Mark: configs.StandbyAck, ConnID: req.ConnID, OK: true}, nil
	}
	*direct = true
	req.ClientID = clientID
	return stmt.handle(&req)
}

func (stmt *Context) handle(req *network.Request) (*network.Response, error) {
	m := stmt.Manager
	switch req.Mark {
	case configs.TxnBegin:
		h, err := m.BeginTxn(req.ClientID, isolationOf(req.Isolation), req.ReadOnly, req.SessionID, req.ConnID)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, nil); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Handle: h, Timestamp: time.Now().Unix()}, nil

	case configs.TxnBeginGetGxid:
		h, g, err := m.BeginTxnGetGxid(req.ClientID, isolationOf(req.Isolation), req.ReadOnly, req.SessionID, req.ConnID)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, []txn.Gxid{g}); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Handle: h, Gxid: g, Timestamp: time.Now().Unix()}, nil

	case configs.TxnBeginGetGxidAV:
		h, g, err := m.BeginTxnAutovacuum(req.ClientID, isolationOf(req.Isolation), req.ConnID)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, []txn.Gxid{g}); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Handle: h, Gxid: g}, nil

	case configs.TxnBeginGetGxidMulti:
		items := make([]txn.BeginItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = txn.BeginItem{
				Isolation: isolationOf(it.Isolation), ReadOnly: it.ReadOnly,
				SessionID: it.SessionID, ConnID: it.ConnID,
			}
		}
		handles, err := m.BeginTxnMulti(req.ClientID, items)
		if err != nil {
			return errResponse(req, err), nil
		}
		gxids, err := m.AllocateGxids(handles)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, gxids); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Gxids: gxids, Length: len(gxids), Timestamp: time.Now().Unix()}, nil

	case configs.TxnPrepare:
		h, err := m.GetTxnByGxid(req.Gxid)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = m.Prepare(h); err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, nil); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true, Gxid: req.Gxid}, nil

	case configs.TxnStartPrepared:
		h, err := m.GetTxnByGxid(req.Gxid)
		if err != nil {
			return errResponse(req, err), nil
		}
		if err = m.StartPrepared(h, req.Gid, req.NodeList); err != nil {
			return errResponse(req, err), nil
		}
		if err = stmt.mirror(req, nil); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true, Gxid: req.Gxid}, nil

	case configs.TxnCommit:
		h, err := m.GetTxnByGxid(req.Gxid)
		if err != nil {
			return errResponse(req, err), nil
		}
		status := m.CommitTxn(h, req.WaitedGxids)
		if status == configs.StatusOK {
			if err = stmt.mirror(req, nil); err != nil {
				return errResponse(req, err), nil
			}
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID,
			OK: status != configs.StatusError, Gxid: req.Gxid, Status: status}, nil

	case configs.TxnCommitPrepared:
		h1 := stmt.resolve(req.Gxid)
		h2 := stmt.resolve(req.PreparedGxid)
		status := m.CommitPrepared(h1, h2, req.WaitedGxids)
		if status == configs.StatusOK {
			if err := stmt.mirror(req, nil); err != nil {
				return errResponse(req, err), nil
			}
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID,
			OK: status != configs.StatusError, Gxid: req.Gxid,
			PreparedGxid: req.PreparedGxid, Status: status}, nil

	case configs.TxnCommitMulti:
		handles := make([]int, len(req.Gxids))
		for i, g := range req.Gxids {
			handles[i] = stmt.resolve(g)
		}
		statuses, removed := m.CommitTxnMulti(handles, req.WaitedGxids)
		if removed > 0 {
			if err := stmt.mirror(req, req.Gxids); err != nil {
				return errResponse(req, err), nil
			}
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Statuses: statuses, Length: len(statuses)}, nil

	case configs.TxnRollback:
		h, err := m.GetTxnByGxid(req.Gxid)
		if err != nil {
			return errResponse(req, err), nil
		}
		status := m.RollbackTxn(h)
		if status == configs.StatusOK {
			if err = stmt.mirror(req, nil); err != nil {
				return errResponse(req, err), nil
			}
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID,
			OK: status != configs.StatusError, Gxid: req.Gxid, Status: status}, nil

	case configs.TxnRollbackMulti:
		handles := make([]int, len(req.Gxids))
		for i, g := range req.Gxids {
			handles[i] = stmt.resolve(g)
		}
		statuses, removed := m.RollbackTxnMulti(handles)
		if removed > 0 {
			if err := stmt.mirror(req, req.Gxids); err != nil {
				return errResponse(req, err), nil
			}
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Statuses: statuses, Length: len(statuses)}, nil

	case configs.TxnGetGidData:
		h, newGxid, preparedGxid, nodeList, err := m.GetGidData(req.ClientID,
			isolationOf(req.Isolation), req.ReadOnly, req.Gid, req.ConnID)
		if err != nil {
			return errResponse(req, err), nil
		}
		// the auxiliary transaction is mirrored as a plain begin carrying the
		// gxid the master just assigned.
		bk := &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: req.ConnID,
			ClientID: req.ClientID, Isolation: req.Isolation, ReadOnly: req.ReadOnly}
		if err = stmt.mirror(bk, []txn.Gxid{newGxid}); err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Handle: h, Gxid: newGxid, PreparedGxid: preparedGxid, NodeList: nodeList}, nil

	case configs.TxnGetGxid:
		g, err := m.GetGxidByHandle(req.Handle)
		if err != nil {
			return errResponse(req, err), nil
		}
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Handle: req.Handle, Gxid: g}, nil

	case configs.TxnGetNextGxid:
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			NextGxid: m.GetNextGxid()}, nil

	case configs.TxnGxidList:
		byt := m.SerializeRegistry()
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID, OK: true,
			Length: len(byt), Registry: byt}, nil

	case configs.ReportXmin:
		latest, xmin, status := m.ReportXmin(req.Gxid, req.NodeType, req.NodeName)
		return &network.Response{Mark: req.Mark, ConnID: req.ConnID,
			OK: status == configs.StatusOK, Status: status,
			LatestCompletedGxid: latest, GlobalXmin: xmin}, nil

	default:
		return nil, errors.New("invalid mark received on the GTM: " + req.Mark)
	}
}

// applyBkup executes a standby twin: same mutation, no client response, no
// further forwarding. Already-applied twins resolve to no-ops, which keeps
// the master's retry-after-reconnect safe.
func (stmt *Context) applyBkup(req *network.Request) {
	m := stmt.Manager
	switch req.Mark {
	case configs.BkupTxnBegin:
		// no gxid to dedup against here; BkupBeginTxn absorbs retried
		// deliveries by session / client ownership instead.
		_, _ = m.BkupBeginTxn(req.ClientID, isolationOf(req.Isolation), req.ReadOnly, req.SessionID, req.ConnID)

	case configs.BkupTxnBeginGetGxid:
		if len(req.Gxids) != 1 || stmt.resolve(req.Gxids[0]) != txn.InvalidHandle {
			// a retried delivery: the gxid already advanced standby state.
			return
		}
		h, err := m.BeginTxn(req.ClientID, isolationOf(req.Isolation), req.ReadOnly, req.SessionID, req.ConnID)
		if err == nil {
			configs.CheckError(m.BkupSetGxid(h, req.Gxids[0]))
		}

	case configs.BkupTxnBeginGetGxidAV:
		if len(req.Gxids) != 1 || stmt.resolve(req.Gxids[0]) != txn.InvalidHandle {
			return
		}
		h, err := m.BeginVacuumTxn(req.ClientID, isolationOf(req.Isolation), req.ConnID)
		if err == nil {
			configs.CheckError(m.BkupSetGxid(h, req.Gxids[0]))
		}

	case configs.BkupTxnBeginGetGxidMulti:
		if len(req.Gxids) > 0 && stmt.resolve(req.Gxids[0]) != txn.InvalidHandle {
			return
		}
		items := make([]txn.BeginItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = txn.BeginItem{
				Isolation: isolationOf(it.Isolation), ReadOnly: it.ReadOnly,
				SessionID: it.SessionID, ConnID: it.ConnID,
			}
		}
		handles, err := m.BeginTxnMulti(req.ClientID, items)
		if err != nil {
			configs.Warn(false, "standby begin batch fell short: "+err.Error())
		}
		for i, h := range handles {
			if i < len(req.Gxids) {
				configs.CheckError(m.BkupSetGxid(h, req.Gxids[i]))
			}
		}

	case configs.BkupTxnPrepare:
		if h, err := m.GetTxnByGxid(req.Gxid); err == nil {
			_ = m.Prepare(h)
		}

	case configs.BkupTxnStartPrepared:
		if h, err := m.GetTxnByGxid(req.Gxid); err == nil {
			if err = m.StartPrepared(h, req.Gid, req.NodeList); err != nil {
				configs.Warn(false, "standby start prepared: "+err.Error())
			}
		}

	case configs.BkupTxnCommit:
		if h, err := m.GetTxnByGxid(req.Gxid); err == nil {
			m.CommitTxn(h, req.WaitedGxids)
		}

	case configs.BkupTxnCommitPrepared:
		h1 := stmt.resolve(req.Gxid)
		h2 := stmt.resolve(req.PreparedGxid)
		m.CommitPrepared(h1, h2, req.WaitedGxids)

	case configs.BkupTxnCommitMulti:
		handles := make([]int, len(req.Gxids))
		for i, g := range req.Gxids {
			handles[i] = stmt.resolve(g)
		}
		m.CommitTxnMulti(handles, req.WaitedGxids)

	case configs.BkupTxnRollback:
		if h, err := m.GetTxnByGxid(req.Gxid); err == nil {
			m.RollbackTxn(h)
		}

	case configs.BkupTxnRollbackMulti:
		handles := make([]int, len(req.Gxids))
		for i, g := range req.Gxids {
			handles[i] = stmt.resolve(g)
		}
		m.RollbackTxnMulti(handles)

	default:
		configs.Warn(false, "invalid bkup mark received: "+req.Mark)
	}
}
