package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"

	"GTM/configs"
	"github.com/goccy/go-json"
)

// Comm owns the listening socket of a GTM node. Unlike a benchmark
// participant, the GTM must outlive flaky clients: a failed accept is warned
// about and the loop keeps serving instead of tearing the node down.
type Comm struct {
	done     chan bool
	listener net.Listener
	stmt     *Context
	clients  *sync.Map
	sem      chan struct{}
}

func NewConns(stmt *Context, address string) *Comm {
	res := &Comm{stmt: stmt, clients: &sync.Map{}}
	res.done = make(chan bool, 1)
	var err error
	res.listener, err = net.Listen("tcp", address)
	configs.CheckError(err)
	configs.DPrintf("GTM accepting clients on " + address)
	return res
}

func (c *Comm) Run() {
	c.sem = make(chan struct{}, configs.MaxConnectionHandler)
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				configs.Warn(false, "accept failed, client dropped: "+err.Error())
				continue
			}
		}
		c.sem <- struct{}{}
		go func() {
			defer func() {
				<-c.sem
			}()
			c.handleRequest(conn)
		}()
	}
}

// handleRequest serves one client connection to completion. Every accepted
// connection is stamped with a fresh client id; when a connection that issued
// direct (non-bkup) requests goes away, its transactions are bulk-aborted.
// Requests on one connection are served strictly in order.
func (c *Comm) handleRequest(conn net.Conn) {
	defer conn.Close()
	c.clients.Store(conn, struct{}{})
	defer c.clients.Delete(conn)
	clientID := atomic.AddUint32(&c.stmt.lastClientID, 1)
	direct := false
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		data, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		resp, fatal := c.stmt.dispatch(clientID, &direct, data)
		if fatal != nil {
			// a frame we cannot decode poisons the stream; drop the client.
			configs.Warn(false, "protocol error: "+fatal.Error())
			break
		}
		if resp == nil {
			continue
		}
		msg, err := json.Marshal(resp)
		configs.CheckError(err)
		msg = append(msg, '\n')
		if _, err = writer.Write(msg); err != nil {
			break
		}
		if err = writer.Flush(); err != nil {
			break
		}
	}
	if direct {
		c.stmt.Manager.RemoveAllTxns(clientID, -1)
	}
}

func (c *Comm) Stop() {
	c.done <- true
	c.clients.Range(func(key, value interface{}) bool {
		_ = key.(net.Conn).Close()
		return true
	})
	configs.CheckError(c.listener.Close())
}
