package control

import (
	"strconv"
	"sync"

	"github.com/tidwall/wal"
)

// walStore appends one record per checkpoint to a write-ahead log on local
// disk. The newest record wins on load.
type walStore struct {
	latch sync.Mutex
	lsn   uint64
	logs  *wal.Log
}

func newWALStore(location string) (Store, error) {
	log, err := wal.Open(location, nil)
	if err != nil {
		return nil, err
	}
	lsn, err := log.LastIndex()
	if err != nil {
		return nil, err
	}
	return &walStore{logs: log, lsn: lsn}, nil
}

func (c *walStore) LoadControl() (uint32, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if c.lsn == 0 {
		return 0, false, nil
	}
	data, err := c.logs.Read(c.lsn)
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, false, err
	}
	return uint32(v), true, nil
}

func (c *walStore) SaveControl(gxid uint32) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.lsn++
	return c.logs.Write(c.lsn, []byte(strconv.FormatUint(uint64(gxid), 10)))
}

func (c *walStore) Close() error {
	return c.logs.Close()
}
