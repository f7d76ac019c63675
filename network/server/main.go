package server

import (
	"context"
	"os"
	"sync"

	"GTM/configs"
	"GTM/control"
	"GTM/network/standby"
	"GTM/txn"
	"github.com/goccy/go-json"
)

// Context records the statement context for one GTM node, primary or standby.
type Context struct {
	mu      *sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	address string

	Manager *txn.Manager
	Standby *standby.Client

	conn         *Comm
	done         chan bool
	lastClientID uint32
}

var conLock = sync.Mutex{}
var config map[string]interface{}

func initData(stmt *Context, service string, isStandby bool) {
	stmt.mu = &sync.Mutex{}
	stmt.done = make(chan bool, 1)
	stmt.address = service
	var store control.Store
	if isStandby {
		// the standby counter is driven by the master; nothing to persist.
		store = control.NewMemStore()
	} else {
		var err error
		store, err = control.NewStore(configs.ControlStorage, configs.ControlFileLocation)
		configs.CheckError(err)
	}
	stmt.Manager = txn.NewManager(store, txn.NopSequenceManager(), isStandby)
	configs.CheckError(stmt.Manager.Restore())
	stmt.Manager.SetWraparoundLimits(txn.FirstNormalGxid)
	if !isStandby && configs.StandbyServerAddress != "" {
		stmt.Standby = standby.NewClient(configs.StandbyServerAddress)
	}
}

func loadConfig(stmt *Context, config *map[string]interface{}) {
	conLock.Lock()
	defer conLock.Unlock()
	raw, err := os.ReadFile(configs.ConfigFileLocation)
	if err != nil {
		raw, err = os.ReadFile("." + configs.ConfigFileLocation)
	}
	if err != nil {
		configs.Warn(false, "no config file, keeping flag values: "+err.Error())
		return
	}
	err = json.Unmarshal(raw, &config)
	configs.CheckError(err)
	if v, ok := (*config)["gtm"].(string); ok {
		configs.GTMServerAddress = v
	}
	if v, ok := (*config)["standby"].(string); ok {
		configs.StandbyServerAddress = v
	}
	if v, ok := (*config)["synchronous_backup"].(bool); ok {
		configs.SynchronousBackup = v
	}
}

// Close the running GTM process.
func (stmt *Context) Close() {
	configs.TPrintf("Close called!!! at " + stmt.address)
	stmt.done <- true
	stmt.cancel()
	if stmt.Standby != nil {
		stmt.Standby.Close()
	}
	stmt.conn.Stop()
}

func begin(stmt *Context, ch chan bool, service string, isStandby bool) {
	configs.TPrintf("Initializing -- ")
	initData(stmt, service, isStandby)
	stmt.ctx, stmt.cancel = context.WithCancel(context.Background())
	stmt.conn = NewConns(stmt, service)
	configs.DPrintf("build finished for " + service)
	ch <- true
	stmt.conn.Run()
}

// Main the main function for a GTM node process.
func Main(addr string, isStandby bool) {
	stmt := &Context{}
	loadConfig(stmt, &config)
	if addr == "" {
		if isStandby {
			addr = configs.StandbyServerAddress
		} else {
			addr = configs.GTMServerAddress
		}
	}
	ch := make(chan bool, 1)
	begin(stmt, ch, addr, isStandby)
}

// StartForTest brings a node up in the background and returns once it
// accepts connections.
func StartForTest(addr string, isStandby bool) *Context {
	stmt := &Context{}
	ch := make(chan bool)
	go begin(stmt, ch, addr, isStandby)
	<-ch
	return stmt
}
