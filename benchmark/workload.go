package benchmark

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"GTM/configs"
	"GTM/txn"
	"GTM/utils"
	set "github.com/deckarep/golang-set"
	"github.com/pingcap/go-ycsb/pkg/generator"
	"golang.org/x/sync/errgroup"
)

// Stmt drives a begin/commit workload against an in-process transaction
// manager to size the registry hot paths.
type Stmt struct {
	stat    *utils.Stat
	manager *txn.Manager
	// sessions currently owned by some client, so two clients never ride the
	// same logical session at once.
	busySessions set.Set
	stop         int32
	clientSeq    uint32
}

type client struct {
	id       uint32
	from     *Stmt
	r        *rand.Rand
	zip      *generator.Zipfian
	lastGxid txn.Gxid
}

func NewStmt(manager *txn.Manager) *Stmt {
	return &Stmt{
		stat:         utils.NewStat(),
		manager:      manager,
		busySessions: set.NewSet(),
	}
}

func (c *Stmt) newClient() *client {
	id := atomic.AddUint32(&c.clientSeq, 1)
	return &client{
		id:   id,
		from: c,
		r:    rand.New(rand.NewSource(int64(id))),
		zip:  generator.NewZipfianWithRange(0, int64(configs.BenchmarkSessions-1), configs.SessionSkewness),
	}
}

// pickSession draws a zipfian session name and claims it; a session another
// client holds falls back to a private one.
func (c *client) pickSession() string {
	s := "session-" + strconv.FormatInt(c.zip.Next(c.r), 10)
	if c.from.busySessions.Add(s) {
		return s
	}
	return "session-" + strconv.FormatUint(uint64(c.id), 10) + "-" + strconv.FormatInt(c.zip.Next(c.r), 10)
}

func (c *client) runOne() {
	info := utils.NewInfo()
	start := time.Now()
	m := c.from.manager
	session := c.pickSession()
	defer c.from.busySessions.Remove(session)

	readOnly := c.r.Float64() < configs.ReadOnlyPercentage
	h, g, err := m.BeginTxnGetGxid(c.id, configs.DefaultIsolationLevel, readOnly, session, -1)
	if err != nil {
		info.Failure = true
		c.from.stat.Append(info)
		return
	}

	switch {
	case c.r.Intn(100) < configs.TwoPCPercentage:
		info.TwoPhase = true
		gid := "gid-" + strconv.FormatUint(uint64(g), 10)
		if err = m.StartPrepared(h, gid, "dn1,dn2"); err != nil {
			m.RollbackTxn(h)
			info.Failure = true
			break
		}
		configs.CheckError(m.Prepare(h))
		newH, _, preparedGxid, _, err := m.GetGidData(c.id, configs.DefaultIsolationLevel, false, gid, -1)
		if err != nil {
			info.Failure = true
			break
		}
		prepH, _ := m.GetTxnByGxid(preparedGxid)
		status := m.CommitPrepared(newH, prepH, nil)
		info.IsCommit = status == configs.StatusOK

	case c.r.Float64() < configs.RollbackPercentage:
		m.RollbackTxn(h)

	default:
		var waited []txn.Gxid
		if c.lastGxid.IsValid() && c.r.Intn(4) == 0 {
			waited = []txn.Gxid{c.lastGxid}
		}
		status := m.CommitTxn(h, waited)
		for status == configs.StatusDelayed {
			// the waited transaction, this client's previous one, is still
			// open; retry without the dependency.
			info.DelayedCnt++
			info.RetryCount++
			status = m.CommitTxn(h, nil)
		}
		info.IsCommit = status == configs.StatusOK
	}
	c.lastGxid = g
	info.Latency = time.Since(start)
	c.from.stat.Append(info)
}

func (c *client) run() error {
	for atomic.LoadInt32(&c.from.stop) == 0 {
		c.runOne()
	}
	return nil
}

// Run drives configs.ClientRoutineNumber clients for configs.BenchDuration
// and prints the aggregated statistics line.
func (c *Stmt) Run() {
	grp := errgroup.Group{}
	for i := 0; i < configs.ClientRoutineNumber; i++ {
		cl := c.newClient()
		grp.Go(cl.run)
	}
	time.Sleep(configs.BenchDuration)
	atomic.StoreInt32(&c.stop, 1)
	configs.CheckError(grp.Wait())
	c.stat.Log()
}

// TestGTM builds a fresh local manager and runs the workload against it.
func TestGTM() {
	manager := txn.NewManager(nil, nil, false)
	configs.CheckError(manager.SetNextGxid(txn.FirstNormalGxid))
	manager.SetWraparoundLimits(txn.FirstNormalGxid)
	NewStmt(manager).Run()
}
