package standby

import (
	"bufio"
	"net"
	"sync"
	"time"

	"GTM/configs"
	"GTM/network"
	"GTM/utils"
	"github.com/goccy/go-json"
)

// Client is the master-side end of the backup channel. Every mutating request
// is mirrored through it before the client response is written, so the send
// path keeps the channel ordered: one latch, one connection, newline-framed
// JSON. On a broken connection it re-dials and re-sends; the bkup operations
// are idempotent on the standby, so a duplicate delivery is harmless.
type Client struct {
	latch  sync.Mutex
	addr   string
	conn   net.Conn
	reader *bufio.Reader
}

func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// connect dials the standby. Caller holds the latch.
func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, configs.StandbyDialTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	configs.LPrintf("standby channel connected to " + c.addr)
	return nil
}

// drop closes the broken connection. Caller holds the latch.
func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
		configs.LPrintf("standby channel to " + c.addr + " dropped")
	}
}

func (c *Client) send(msg []byte) error {
	if c.conn == nil {
		if err := c.connect(); err != nil {
			return err
		}
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(configs.WriteDeadline)); err != nil {
		return err
	}
	_, err := c.conn.Write(msg)
	return err
}

// Forward mirrors one request to the standby, making at most
// configs.MaxStandbyRetry send attempts and re-dialing after each failure.
func (c *Client) Forward(req *network.Request) error {
	msg, err := json.Marshal(req)
	configs.CheckError(err)
	msg = append(msg, "\n"...)
	c.latch.Lock()
	defer c.latch.Unlock()
	for i := 0; i < configs.MaxStandbyRetry; i++ {
		if err = c.send(msg); err == nil {
			return nil
		}
		configs.Warn(false, "standby forward failed: "+err.Error())
		c.drop()
	}
	return utils.ErrStandbyLost
}

// FlushSync asks the standby to acknowledge everything sent so far and waits
// for the ack line. Used when SynchronousBackup is configured.
func (c *Client) FlushSync() error {
	msg, err := json.Marshal(&network.Request{Mark: configs.StandbyAck})
	configs.CheckError(err)
	msg = append(msg, "\n"...)
	c.latch.Lock()
	defer c.latch.Unlock()
	if err = c.send(msg); err != nil {
		c.drop()
		return utils.ErrStandbyLost
	}
	if err = c.conn.SetReadDeadline(time.Now().Add(configs.StandbyDialTimeout)); err != nil {
		c.drop()
		return err
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.drop()
		return utils.ErrStandbyLost
	}
	var resp network.Response
	if err = json.Unmarshal(line, &resp); err != nil || resp.Mark != configs.StandbyAck {
		c.drop()
		return utils.ErrStandbyLost
	}
	return nil
}

func (c *Client) Close() {
	c.latch.Lock()
	c.drop()
	c.latch.Unlock()
}
