package control

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"
)

// sqlStore keeps the checkpoint in a single-row table on a PostgreSQL
// instance, for deployments that already run one next to the GTM.
type sqlStore struct {
	latch sync.Mutex
	ctx   context.Context
	conn  *pgx.Conn
}

func newSQLStore(link string) (Store, error) {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, link)
	if err != nil {
		return nil, err
	}
	_, err = conn.Exec(ctx,
		"CREATE TABLE IF NOT EXISTS gtm_control (id INT PRIMARY KEY, next_gxid BIGINT NOT NULL);")
	if err != nil {
		return nil, err
	}
	return &sqlStore{ctx: ctx, conn: conn}, nil
}

func (c *sqlStore) LoadControl() (uint32, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	var v int64
	err := c.conn.QueryRow(c.ctx, "SELECT next_gxid FROM gtm_control WHERE id = 0;").Scan(&v)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(v), true, nil
}

func (c *sqlStore) SaveControl(gxid uint32) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	_, err := c.conn.Exec(c.ctx,
		"INSERT INTO gtm_control (id, next_gxid) VALUES (0, $1) ON CONFLICT (id) DO UPDATE SET next_gxid = $1;",
		int64(gxid))
	return err
}

func (c *sqlStore) Close() error {
	return c.conn.Close(c.ctx)
}
