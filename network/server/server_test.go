package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"GTM/configs"
	"GTM/network"
	"GTM/txn"
	"github.com/goccy/go-json"
	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

const (
	primaryAddr = "127.0.0.1:6701"
	standbyAddr = "127.0.0.1:6702"
)

// newTestKitPair brings up a standby and a primary mirroring into it, with the
// synchronous flush on so standby state is settled when a response arrives.
func newTestKitPair(t *testing.T) (*Context, *Context, func()) {
	oldStandby := configs.StandbyServerAddress
	oldSync := configs.SynchronousBackup
	oldStore := configs.ControlStorage
	configs.StandbyServerAddress = standbyAddr
	configs.SynchronousBackup = true
	configs.ControlStorage = configs.MemControl

	sb := StartForTest(standbyAddr, true)
	pr := StartForTest(primaryAddr, false)
	return pr, sb, func() {
		pr.Close()
		sb.Close()
		configs.StandbyServerAddress = oldStandby
		configs.SynchronousBackup = oldSync
		configs.ControlStorage = oldStore
	}
}

type wireClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialGTM(t *testing.T, addr string) *wireClient {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	tassert.NoError(t, err)
	return &wireClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *wireClient) call(t *testing.T, req *network.Request) *network.Response {
	msg, err := json.Marshal(req)
	tassert.NoError(t, err)
	msg = append(msg, '\n')
	_, err = c.conn.Write(msg)
	tassert.NoError(t, err)
	line, err := c.reader.ReadBytes('\n')
	tassert.NoError(t, err)
	var resp network.Response
	tassert.NoError(t, json.Unmarshal(line, &resp))
	return &resp
}

func TestWireBeginCommitMirrored(t *testing.T) {
	pr, sb, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	resp := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: -1, SessionID: "s1"})
	tassert.True(t, resp.OK)
	assert.Equal(t, resp.Gxid, txn.Gxid(3))

	// the synchronous flush ran before the response: the standby has the slot.
	h, err := sb.Manager.GetTxnByGxid(resp.Gxid)
	tassert.NoError(t, err)
	g, err := sb.Manager.GetGxidByHandle(h)
	tassert.NoError(t, err)
	assert.Equal(t, g, txn.Gxid(3))
	assert.Equal(t, sb.Manager.GetNextGxid(), txn.Gxid(4))

	commit := cl.call(t, &network.Request{Mark: configs.TxnCommit, ConnID: -1, Gxid: resp.Gxid})
	tassert.True(t, commit.OK)
	assert.Equal(t, commit.Status, configs.StatusOK)
	assert.Equal(t, pr.Manager.CountOpen(), 0)
	assert.Equal(t, sb.Manager.CountOpen(), 0)
	assert.Equal(t, sb.Manager.GetLatestCompletedGxid(), txn.Gxid(3))
}

func TestWireCommitDelayedThenRetry(t *testing.T) {
	pr, _, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	first := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: -1})
	second := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: -1})
	tassert.True(t, first.OK)
	tassert.True(t, second.OK)

	delayed := cl.call(t, &network.Request{Mark: configs.TxnCommit, ConnID: -1,
		Gxid: second.Gxid, WaitedGxids: []txn.Gxid{first.Gxid}})
	assert.Equal(t, delayed.Status, configs.StatusDelayed)
	assert.Equal(t, pr.Manager.CountOpen(), 2)

	ok := cl.call(t, &network.Request{Mark: configs.TxnCommit, ConnID: -1, Gxid: first.Gxid})
	assert.Equal(t, ok.Status, configs.StatusOK)
	retry := cl.call(t, &network.Request{Mark: configs.TxnCommit, ConnID: -1,
		Gxid: second.Gxid, WaitedGxids: []txn.Gxid{first.Gxid}})
	assert.Equal(t, retry.Status, configs.StatusOK)
	assert.Equal(t, pr.Manager.CountOpen(), 0)
}

func TestWireTwoPhaseCommitPrepared(t *testing.T) {
	pr, sb, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	begin := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: -1})
	tassert.True(t, begin.OK)
	sp := cl.call(t, &network.Request{Mark: configs.TxnStartPrepared, ConnID: -1,
		Gxid: begin.Gxid, Gid: "tx1", NodeList: "n1,n2"})
	tassert.True(t, sp.OK)
	prep := cl.call(t, &network.Request{Mark: configs.TxnPrepare, ConnID: -1, Gxid: begin.Gxid})
	tassert.True(t, prep.OK)

	gd := cl.call(t, &network.Request{Mark: configs.TxnGetGidData, ConnID: -1, Gid: "tx1"})
	tassert.True(t, gd.OK)
	assert.Equal(t, gd.PreparedGxid, begin.Gxid)
	assert.Equal(t, gd.NodeList, "n1,n2")
	tassert.True(t, txn.GxidFollows(gd.Gxid, begin.Gxid))

	cp := cl.call(t, &network.Request{Mark: configs.TxnCommitPrepared, ConnID: -1,
		Gxid: gd.Gxid, PreparedGxid: gd.PreparedGxid})
	assert.Equal(t, cp.Status, configs.StatusOK)
	assert.Equal(t, pr.Manager.CountOpen(), 0)
	assert.Equal(t, sb.Manager.CountOpen(), 0)
	assert.Equal(t, pr.Manager.GetLatestCompletedGxid(), gd.Gxid)
}

func TestWireReadOnlyRequests(t *testing.T) {
	_, _, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	next := cl.call(t, &network.Request{Mark: configs.TxnGetNextGxid, ConnID: -1})
	tassert.True(t, next.OK)
	assert.Equal(t, next.NextGxid, txn.Gxid(3))

	begin := cl.call(t, &network.Request{Mark: configs.TxnBegin, ConnID: -1, SessionID: "s9"})
	tassert.True(t, begin.OK)
	got := cl.call(t, &network.Request{Mark: configs.TxnGetGxid, ConnID: -1, Handle: begin.Handle})
	tassert.True(t, got.OK)
	assert.Equal(t, got.Gxid, txn.InvalidGxid)

	lst := cl.call(t, &network.Request{Mark: configs.TxnGxidList, ConnID: -1})
	tassert.True(t, lst.OK)
	assert.Equal(t, lst.Length, len(lst.Registry))
	tassert.Contains(t, string(lst.Registry), "s9")
}

func TestWireValidationError(t *testing.T) {
	_, _, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	resp := cl.call(t, &network.Request{Mark: configs.TxnCommit, ConnID: -1, Gxid: 999})
	tassert.False(t, resp.OK)
	assert.Equal(t, resp.Status, configs.StatusError)
	tassert.NotEqual(t, "", resp.Error)
}

func TestDisconnectCleansClientTxns(t *testing.T) {
	pr, _, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)

	begin := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxid, ConnID: -1})
	tassert.True(t, begin.OK)
	assert.Equal(t, pr.Manager.CountOpen(), 1)

	tassert.NoError(t, cl.conn.Close())
	deadline := time.Now().Add(2 * time.Second)
	for pr.Manager.CountOpen() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, pr.Manager.CountOpen(), 0)
}

func TestWireBatchedBeginAndCommit(t *testing.T) {
	pr, sb, stop := newTestKitPair(t)
	defer stop()
	cl := dialGTM(t, primaryAddr)
	defer cl.conn.Close()

	begin := cl.call(t, &network.Request{Mark: configs.TxnBeginGetGxidMulti, ConnID: -1,
		Items: []network.BeginArg{{ConnID: -1}, {ConnID: -1, SessionID: "batch-s"}, {ConnID: -1}}})
	tassert.True(t, begin.OK)
	assert.Equal(t, begin.Length, 3)
	assert.Equal(t, sb.Manager.CountOpen(), 3)

	commit := cl.call(t, &network.Request{Mark: configs.TxnCommitMulti, ConnID: -1,
		Gxids: append(append([]txn.Gxid{}, begin.Gxids...), 999)})
	tassert.True(t, commit.OK)
	assert.Equal(t, commit.Length, 4)
	assert.Equal(t, commit.Statuses[0], configs.StatusOK)
	assert.Equal(t, commit.Statuses[3], configs.StatusError)
	assert.Equal(t, pr.Manager.CountOpen(), 0)
	assert.Equal(t, sb.Manager.CountOpen(), 0)
}
