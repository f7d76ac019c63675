package control

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoStore keeps the checkpoint as a single upserted document.
type mongoStore struct {
	latch  sync.Mutex
	ctx    context.Context
	client *mongo.Client
	main   *mongo.Collection
}

type controlDoc struct {
	Key      string `bson:"_id"`
	NextGxid int64  `bson:"nextGxid"`
}

func newMongoStore(link string) (Store, error) {
	ctx := context.TODO()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(link))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	res := &mongoStore{
		ctx:    ctx,
		client: client,
		main:   client.Database("gtm").Collection("control"),
	}
	return res, nil
}

func (c *mongoStore) LoadControl() (uint32, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	var doc controlDoc
	err := c.main.FindOne(c.ctx, bson.M{"_id": "gtm"}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(doc.NextGxid), true, nil
}

func (c *mongoStore) SaveControl(gxid uint32) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	opts := options.Replace().SetUpsert(true)
	_, err := c.main.ReplaceOne(c.ctx, bson.M{"_id": "gtm"},
		controlDoc{Key: "gtm", NextGxid: int64(gxid)}, opts)
	return err
}

func (c *mongoStore) Close() error {
	return c.client.Disconnect(c.ctx)
}
