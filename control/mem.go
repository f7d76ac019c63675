package control

import "sync"

// memStore keeps the checkpoint in memory only. Used by tests and by standby
// registries, whose counter is driven by the master anyway.
type memStore struct {
	latch sync.Mutex
	gxid  uint32
	saved bool
}

// NewMemStore returns a volatile control store.
func NewMemStore() Store {
	return &memStore{}
}

func (c *memStore) LoadControl() (uint32, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	return c.gxid, c.saved, nil
}

func (c *memStore) SaveControl(gxid uint32) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.gxid = gxid
	c.saved = true
	return nil
}

func (c *memStore) Close() error {
	return nil
}
