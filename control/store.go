package control

import (
	"GTM/configs"
)

// Store persists the gxid counter checkpoint. The registry writes through it
// every configs.ControlInterval allocations and reads it back once on start.
type Store interface {
	// LoadControl returns the last checkpointed counter; the bool is false
	// when no checkpoint has ever been written.
	LoadControl() (uint32, bool, error)
	SaveControl(gxid uint32) error
	Close() error
}

// NewStore opens the backend selected by kind.
func NewStore(kind string, location string) (Store, error) {
	switch kind {
	case configs.MemControl:
		return NewMemStore(), nil
	case configs.WALControl:
		return newWALStore(location)
	case configs.PostgreSQL:
		return newSQLStore(location)
	case configs.MongoDB:
		return newMongoStore(location)
	default:
		configs.Assert(false, "unknown control store kind "+kind)
		return nil, nil
	}
}
